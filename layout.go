package cfile

import "fmt"

// Layout is the byte accounting of an open file: where the metadata
// records sit and the span left over for blocks.
type Layout struct {
	FileSize   int64
	HeaderSize int64 // header record payload bytes
	FooterSize int64 // footer record payload bytes
	BTreeCount int
	DataStart  int64 // first byte past the header record
	DataEnd    int64 // first byte of the footer record
}

func computeLayout(r *Reader) Layout {
	headerLen := int64(len(r.header.data))
	footerLen := int64(len(r.footer.data))
	return Layout{
		FileSize:   r.fileSize,
		HeaderSize: headerLen,
		FooterSize: footerLen,
		BTreeCount: r.footer.Len(),
		DataStart:  int64(PreambleSize) + headerLen,
		DataEnd:    r.fileSize - int64(PreambleSize) - footerLen,
	}
}

// DataBytes returns the number of bytes available to blocks.
func (l Layout) DataBytes() int64 {
	return l.DataEnd - l.DataStart
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("cfile %d bytes: header %d, data %d, footer %d, btrees %d",
		l.FileSize, l.HeaderSize, l.DataBytes(), l.FooterSize, l.BTreeCount)
}
