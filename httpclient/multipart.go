package httpclient

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// FileEntry is one file part of a multipart upload. The set of
// implementations is closed: FileFromPath, FileFromBytes and
// FileFromBytesWithMIME.
type FileEntry interface {
	field() string
	fileEntry()
}

// FileFromPath uploads the file at Path, streamed while the request is sent.
// The part's filename is the base name of Path.
//
// Example:
//
//	resp, err := client.Request("https://example.com/upload").
//	    Files(httpclient.FileFromPath{Field: "document", Path: "/tmp/report.pdf"}).
//	    Post(ctx)
type FileFromPath struct {
	Field string
	Path  string
}

// FileFromBytes uploads in-memory data under Filename. The part's MIME type
// is sniffed from the data.
type FileFromBytes struct {
	Field    string
	Filename string
	Data     []byte
}

// FileFromBytesWithMIME uploads in-memory data with an explicit MIME type.
// A MIME string that does not parse fails the request with an encoding error.
type FileFromBytesWithMIME struct {
	Field    string
	Filename string
	Data     []byte
	MIME     string
}

func (f FileFromPath) field() string          { return f.Field }
func (f FileFromBytes) field() string         { return f.Field }
func (f FileFromBytesWithMIME) field() string { return f.Field }

func (FileFromPath) fileEntry()          {}
func (FileFromBytes) fileEntry()         {}
func (FileFromBytesWithMIME) fileEntry() {}

// filePart is a resolved file entry ready to be written.
type filePart struct {
	field    string
	filename string
	mimeType string
	file     *os.File // set for path entries
	data     []byte   // set for byte entries
}

// multipartBody streams a multipart/form-data body through a pipe. Files
// are opened up front so unreadable paths fail before anything is sent;
// their content is only read once the engine starts consuming the body.
type multipartBody struct {
	fields Pairs
	parts  []filePart

	pr     *io.PipeReader
	pw     *io.PipeWriter
	writer *multipart.Writer

	start     sync.Once
	closeOnce sync.Once
}

// newMultipartBody resolves every file entry and prepares the stream.
func newMultipartBody(fields Pairs, files []FileEntry) (*multipartBody, error) {
	parts := make([]filePart, 0, len(files))
	closeAll := func() {
		for _, p := range parts {
			if p.file != nil {
				_ = p.file.Close()
			}
		}
	}

	for _, entry := range files {
		part, err := resolveFilePart(entry)
		if err != nil {
			closeAll()
			return nil, err
		}
		parts = append(parts, part)
	}

	pr, pw := io.Pipe()
	return &multipartBody{
		fields: fields,
		parts:  parts,
		pr:     pr,
		pw:     pw,
		writer: multipart.NewWriter(pw),
	}, nil
}

func resolveFilePart(entry FileEntry) (filePart, error) {
	switch f := entry.(type) {
	case FileFromPath:
		file, err := os.Open(f.Path)
		if err != nil {
			return filePart{}, ioError("open file part", err)
		}
		mt, err := mimetype.DetectReader(file)
		if err == nil {
			_, err = file.Seek(0, io.SeekStart)
		}
		if err != nil {
			_ = file.Close()
			return filePart{}, ioError("read file part", err)
		}
		return filePart{
			field:    f.Field,
			filename: filepath.Base(f.Path),
			mimeType: mt.String(),
			file:     file,
		}, nil

	case FileFromBytes:
		return filePart{
			field:    f.Field,
			filename: f.Filename,
			mimeType: mimetype.Detect(f.Data).String(),
			data:     f.Data,
		}, nil

	case FileFromBytesWithMIME:
		mediaType, params, err := mime.ParseMediaType(f.MIME)
		if err != nil {
			return filePart{}, encodingError("parse file part mime",
				fmt.Errorf("%w %q: %w", ErrInvalidMIME, f.MIME, err))
		}
		return filePart{
			field:    f.Field,
			filename: f.Filename,
			mimeType: mime.FormatMediaType(mediaType, params),
			data:     f.Data,
		}, nil
	}

	return filePart{}, encodingError("resolve file part", fmt.Errorf("unsupported file entry %T", entry))
}

// ContentType returns the multipart/form-data content type with its boundary.
func (b *multipartBody) ContentType() string {
	return b.writer.FormDataContentType()
}

// Read starts the producer on first use and reads serialized form bytes.
func (b *multipartBody) Read(p []byte) (int, error) {
	b.start.Do(func() { go b.produce() })
	return b.pr.Read(p)
}

// Close stops the producer and releases open files.
func (b *multipartBody) Close() error {
	b.closeOnce.Do(func() {
		_ = b.pr.Close()
		for _, p := range b.parts {
			if p.file != nil {
				_ = p.file.Close()
			}
		}
	})
	return nil
}

// produce writes text fields, then file parts, then the closing boundary.
func (b *multipartBody) produce() {
	err := b.writeAll()
	if err == nil {
		err = b.writer.Close()
	}
	_ = b.pw.CloseWithError(err)
}

func (b *multipartBody) writeAll() error {
	for _, kv := range b.fields {
		if err := b.writer.WriteField(kv.Key, kv.Value); err != nil {
			return err
		}
	}

	for _, p := range b.parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(p.field), quoteEscaper.Replace(p.filename)))
		h.Set("Content-Type", p.mimeType)

		w, err := b.writer.CreatePart(h)
		if err != nil {
			return err
		}

		if p.file != nil {
			_, err = io.Copy(w, p.file)
			_ = p.file.Close()
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return ioError("read file part", err)
			}
		} else {
			_, err = w.Write(p.data)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
