package emitter

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// CodeOutput streams the concatenated .rodata and .text contents. The
// code offset is handed to it before writing so it can emit final
// addresses.
type CodeOutput interface {
	SetCodeOffset(offset uint64)
	Write(out io.Writer) error
}

// filePiece is one scheduled write at a fixed file offset. Three
// variants: an in-memory buffer, a producer-driven piece that asks the
// CodeOutput to stream, and a no-op marker. The .text piece is the
// no-op one: the producer emits rodata and text as a single blob, so
// the .rodata piece writes both.
type filePiece struct {
	name   string
	offset uint64
	data   []byte
	output CodeOutput
	noop   bool
}

func memoryPiece(name string, offset uint64, data []byte) filePiece {
	return filePiece{name: name, offset: offset, data: data}
}

func rodataPiece(offset uint64, output CodeOutput) filePiece {
	return filePiece{name: ".rodata", offset: offset, output: output}
}

func textPiece(offset uint64, output CodeOutput) filePiece {
	return filePiece{name: ".text", offset: offset, output: output, noop: true}
}

func (p *filePiece) write(out io.WriteSeeker) error {
	if p.noop {
		return nil
	}

	if _, err := out.Seek(int64(p.offset), io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek to %s offset %d", p.name, p.offset)
	}

	if p.output != nil {
		p.output.SetCodeOffset(p.offset)
		w := bufio.NewWriter(out)
		if err := p.output.Write(w); err != nil {
			return errors.Wrap(err, "write .rodata and .text")
		}
		return errors.Wrap(w.Flush(), "flush .rodata and .text")
	}

	if _, err := out.Write(p.data); err != nil {
		return errors.Wrapf(err, "write %s at offset %d", p.name, p.offset)
	}
	return nil
}
