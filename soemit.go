package main

import (
	"debug/elf"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"

	"soemit/pkg/emitter"
	"soemit/pkg/utils"
)

// blobCodeOutput streams pre-built .rodata and .text blobs as the
// single contiguous run the builder expects.
type blobCodeOutput struct {
	rodata []byte
	text   []byte
	offset uint64
}

func (c *blobCodeOutput) SetCodeOffset(offset uint64) {
	c.offset = offset
}

func (c *blobCodeOutput) Write(out io.Writer) error {
	if _, err := out.Write(c.rodata); err != nil {
		return err
	}
	_, err := out.Write(c.text)
	return err
}

func main() {
	app := kingpin.New("soemit",
		"Package ahead-of-time compiler output into a loadable ELF shared object.")
	isaName := app.Flag("isa",
		"Target instruction set: arm, thumb2, arm64, x86, x86-64, mips32, mips64.").
		Default(env.Str("SOEMIT_ISA", "x86-64")).String()
	rodataPath := app.Flag("rodata", "File holding the read-only data blob.").
		Required().ExistingFile()
	textPath := app.Flag("text", "File holding the executable code blob.").
		Required().ExistingFile()
	bssSize := app.Flag("bss-size", "Size of the zero-initialized segment, 0 disables it.").
		Default("0").Uint64()
	symbols := app.Flag("symbols", "Emit .symtab and .strtab.").Bool()
	rawSections := app.Flag("section",
		"Attach a raw section, name=path[:alloc]. Repeatable.").Strings()
	verbose := app.Flag("verbose", "Log layout decisions to stderr.").
		Default(env.Str("SOEMIT_VERBOSE", "false")).Bool()
	output := app.Arg("output", "Output shared object path.").Required().String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	isa, err := emitter.ParseISA(*isaName)
	if err != nil {
		utils.Fatal(err)
	}

	rodata, err := os.ReadFile(*rodataPath)
	utils.MustNo(err)
	text, err := os.ReadFile(*textPath)
	utils.MustNo(err)
	if len(text) < 4 {
		utils.Fatal("the code blob must hold at least one word")
	}

	// .text starts on a page boundary, so the read-only blob is padded
	// up to one.
	rodata = append(rodata, make([]byte, utils.RoundUp(uint64(len(rodata)), emitter.PageSize)-uint64(len(rodata)))...)

	logger := log.NewNopLogger()
	if *verbose {
		logger = level.NewFilter(log.NewLogfmtLogger(os.Stderr), level.AllowDebug())
	}

	out, err := os.Create(*output)
	utils.MustNo(err)
	defer out.Close()

	rodataSize := uint64(len(rodata))
	textSize := uint64(len(text))
	builder := emitter.NewBuilder(isa.Format(), emitter.Config{
		CodeOutput:   &blobCodeOutput{rodata: rodata, text: text},
		Out:          out,
		OutPath:      *output,
		ISA:          isa,
		RodataOffset: 0,
		RodataSize:   rodataSize,
		TextOffset:   rodataSize,
		TextSize:     textSize,
		BssOffset:    rodataSize + textSize,
		BssSize:      *bssSize,
		AddSymbols:   *symbols,
		Logger:       logger,
	})

	for _, spec := range *rawSections {
		raw, err := parseRawSection(spec)
		if err != nil {
			fail(out, *output, err)
		}
		builder.RegisterRawSection(raw)
	}

	if err := builder.Init(); err != nil {
		fail(out, *output, err)
	}

	if *symbols {
		addBlobSymbols(builder, *bssSize)
	}

	if err := builder.Write(); err != nil {
		fail(out, *output, err)
	}
}

// A failed emission leaves the file in an unspecified state; drop it.
func fail(out *os.File, path string, err error) {
	out.Close()
	os.Remove(path)
	utils.Fatal(err)
}

// addBlobSymbols mirrors the mandatory dynamic symbols into .symtab so
// the blob boundaries survive stripping of the dynamic tables.
func addBlobSymbols(b *emitter.Builder, bssSize uint64) {
	symtab := b.Symtab()
	symtab.AddSymbol("oatdata", &b.Rodata().SectionBuilder, 0, true,
		b.Rodata().Size(), elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	symtab.AddSymbol("oatexec", &b.Text().SectionBuilder, 0, true,
		b.Text().Size(), elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	symtab.AddSymbol("oatlastword", &b.Text().SectionBuilder, b.Text().Size()-4, true,
		4, elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	if bssSize != 0 {
		symtab.AddSymbol("oatbss", &b.Bss().SectionBuilder, 0, true,
			bssSize, elf.STB_GLOBAL, elf.STT_OBJECT, 0)
		symtab.AddSymbol("oatbsslastword", &b.Bss().SectionBuilder, bssSize-4, true,
			4, elf.STB_GLOBAL, elf.STT_OBJECT, 0)
	}
}

func parseRawSection(spec string) (*emitter.RawSectionBuilder, error) {
	name, rest, ok := strings.Cut(spec, "=")
	if !ok || name == "" {
		return nil, errors.Errorf("malformed --section %q, want name=path[:alloc]", spec)
	}

	path := rest
	var flags elf.SectionFlag
	align := uint64(1)
	if p, found := strings.CutSuffix(rest, ":alloc"); found {
		path = p
		flags = elf.SHF_ALLOC
		align = emitter.WordSize
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read section %s", name)
	}

	raw := emitter.NewRawSectionBuilder(name, elf.SHT_PROGBITS, flags, nil, 0, align, 0)
	raw.SetBuffer(buf)
	return raw, nil
}
