package core

// parser.go decodes an uploaded byte stream into an ordered sequence of
// rows with stable, physical 1-based row numbers. Row numbering counts
// every file row including the skipped header rows, so error reports can
// be correlated back to the original file.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DefaultHeaderRows is how many leading rows are treated as header when
// the caller does not say otherwise.
const DefaultHeaderRows = 1

// ParseOptions control how a source file is decoded.
type ParseOptions struct {
	Format FileFormat
	// Encoding hint for CSV input: "", "utf-8", "windows-1250",
	// "iso-8859-2", "utf-16". Empty means UTF-8 with BOM detection.
	Encoding string
	// HeaderRows is the number of leading rows to skip; the last of them
	// supplies the column names. Zero means DefaultHeaderRows.
	HeaderRows int
}

// ParseFile decodes data into rows keyed by header column name. Column
// names are taken verbatim from the header row, trimmed of surrounding
// whitespace. Duplicate header names are not deduplicated; the last value
// under a repeated name wins.
func ParseFile(data []byte, opts ParseOptions) ([]Row, error) {
	headerRows := opts.HeaderRows
	if headerRows <= 0 {
		headerRows = DefaultHeaderRows
	}

	var records [][]string
	var err error
	switch opts.Format {
	case FormatXLSX:
		records, err = parseXLSX(data)
	case FormatCSV, "":
		records, err = parseCSV(data, opts.Encoding)
	default:
		return nil, parseErrorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	if len(records) < headerRows {
		return nil, parseErrorf("file has no header row")
	}

	header := records[headerRows-1]
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}
	if isEmptyRecord(header) {
		return nil, parseErrorf("file has no header row")
	}

	rows := make([]Row, 0, len(records)-headerRows)
	for i, record := range records[headerRows:] {
		if isEmptyRecord(record) {
			continue
		}
		fields := make(map[string]string, len(header))
		for col, name := range header {
			if name == "" {
				continue
			}
			if col < len(record) {
				fields[name] = record[col]
			} else {
				fields[name] = ""
			}
		}
		rows = append(rows, Row{Number: headerRows + 1 + i, Fields: fields})
	}

	if len(rows) == 0 {
		return nil, parseErrorf("file contains no data rows")
	}
	return rows, nil
}

func parseCSV(data []byte, encodingHint string) ([][]string, error) {
	decoded, err := decodeText(data, encodingHint)
	if err != nil {
		return nil, parseErrorf("decode %s: %v", encodingHint, err)
	}
	if len(bytes.TrimSpace(decoded)) == 0 {
		return nil, parseErrorf("file is empty")
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, parseErrorf("read csv: %v", err)
	}
	if len(records) == 0 {
		return nil, parseErrorf("file is empty")
	}
	return records, nil
}

func parseXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, parseErrorf("open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, parseErrorf("xlsx has no sheets")
	}
	// The first sheet carries the data; additional sheets are ignored.
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, parseErrorf("read sheet %s: %v", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, parseErrorf("file is empty")
	}
	return records, nil
}

var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// decodeText converts raw bytes to UTF-8 according to the encoding hint.
// Without a hint, a BOM is honored and stray invalid UTF-8 sequences are
// replaced rather than failing the whole file.
func decodeText(data []byte, hint string) ([]byte, error) {
	var enc encoding.Encoding
	switch strings.ToLower(hint) {
	case "", "utf-8", "utf8":
		if bytes.HasPrefix(data, bomUTF8) {
			data = data[len(bomUTF8):]
		}
		return sanitizeUTF8(data), nil
	case "windows-1250", "cp1250":
		enc = charmap.Windows1250
	case "iso-8859-2", "latin-2":
		enc = charmap.ISO8859_2
	case "utf-16", "utf16":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", hint)
	}

	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD so a single bad
// cell cannot make the whole file unreadable.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// DetectFormat guesses the file format from the file name, defaulting to
// CSV.
func DetectFormat(fileName string) FileFormat {
	ext := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(ext, ".xlsx"), strings.HasSuffix(ext, ".xlsm"):
		return FormatXLSX
	default:
		return FormatCSV
	}
}
