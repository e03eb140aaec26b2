package core

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ============================================================================
// CSV parsing
// ============================================================================

func TestParseCSVRows(t *testing.T) {
	data := []byte("Nazwa,NIP,Miasto\nAlfa,5270103391,Warszawa\nBeta,7740001454,Płock\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Number != 2 || rows[1].Number != 3 {
		t.Errorf("row numbers = %d, %d, want 2, 3", rows[0].Number, rows[1].Number)
	}
	if got := rows[1].Fields["Miasto"]; got != "Płock" {
		t.Errorf("Fields[Miasto] = %q, want %q", got, "Płock")
	}
}

func TestParseCSVSkipsEmptyRowsKeepsNumbering(t *testing.T) {
	data := []byte("Nazwa,NIP\nAlfa,5270103391\n,\n  ,\nBeta,7740001454\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Blank lines are skipped but physical row numbers are preserved.
	if rows[1].Number != 5 {
		t.Errorf("second row number = %d, want 5", rows[1].Number)
	}
}

func TestParseCSVHeaderRows(t *testing.T) {
	data := []byte("Eksport klientów 2026\nNazwa,NIP\nAlfa,5270103391\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV, HeaderRows: 2})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Number != 3 {
		t.Errorf("row number = %d, want 3", rows[0].Number)
	}
	if got := rows[0].Fields["Nazwa"]; got != "Alfa" {
		t.Errorf("Fields[Nazwa] = %q, want %q", got, "Alfa")
	}
}

func TestParseCSVDuplicateHeaderLastWins(t *testing.T) {
	data := []byte("Nazwa,Email,Email\nAlfa,stary@alfa.pl,nowy@alfa.pl\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Email"]; got != "nowy@alfa.pl" {
		t.Errorf("Fields[Email] = %q, want %q", got, "nowy@alfa.pl")
	}
}

func TestParseCSVShortRecordPadsEmpty(t *testing.T) {
	data := []byte("Nazwa,NIP,Miasto\nAlfa,5270103391\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got, ok := rows[0].Fields["Miasto"]; !ok || got != "" {
		t.Errorf("Fields[Miasto] = %q, %v, want empty present", got, ok)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		opts ParseOptions
	}{
		{"empty file", nil, ParseOptions{Format: FormatCSV}},
		{"whitespace only", []byte("  \n \n"), ParseOptions{Format: FormatCSV}},
		{"header only", []byte("Nazwa,NIP\n"), ParseOptions{Format: FormatCSV}},
		{"blank header", []byte(",,\nAlfa,5270103391,x\n"), ParseOptions{Format: FormatCSV}},
		{"unknown encoding", []byte("Nazwa\nAlfa\n"), ParseOptions{Format: FormatCSV, Encoding: "ebcdic"}},
		{"unknown format", []byte("x"), ParseOptions{Format: FileFormat("pdf")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.data, tt.opts)
			if err == nil {
				t.Fatal("ParseFile succeeded, want error")
			}
			if !IsParseError(err) {
				t.Errorf("error %v is not a ParseError", err)
			}
		})
	}
}

// ============================================================================
// Encodings
// ============================================================================

func TestParseCSVStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Nazwa\nAlfa\n")...)
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Nazwa"]; got != "Alfa" {
		t.Errorf("Fields[Nazwa] = %q, want %q", got, "Alfa")
	}
}

func TestParseCSVWindows1250(t *testing.T) {
	// "Łódź" in code page 1250.
	var buf bytes.Buffer
	buf.WriteString("Miasto\n")
	buf.Write([]byte{0xA3, 0xF3, 'd', 0x9F})
	buf.WriteByte('\n')

	rows, err := ParseFile(buf.Bytes(), ParseOptions{Format: FormatCSV, Encoding: "windows-1250"})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Miasto"]; got != "Łódź" {
		t.Errorf("Fields[Miasto] = %q, want %q", got, "Łódź")
	}
}

func TestParseCSVISO88592(t *testing.T) {
	raw, err := charmap.ISO8859_2.NewEncoder().Bytes([]byte("Miasto\nPoznań\n"))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	rows, err := ParseFile(raw, ParseOptions{Format: FormatCSV, Encoding: "iso-8859-2"})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Miasto"]; got != "Poznań" {
		t.Errorf("Fields[Miasto] = %q, want %q", got, "Poznań")
	}
}

func TestParseCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte("Nazwa\nŻółć\n"))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	rows, err := ParseFile(raw, ParseOptions{Format: FormatCSV, Encoding: "utf-16"})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Nazwa"]; got != "Żółć" {
		t.Errorf("Fields[Nazwa] = %q, want %q", got, "Żółć")
	}
}

func TestParseCSVInvalidUTF8Replaced(t *testing.T) {
	data := []byte("Nazwa\nAl\xFFfa\n")
	rows, err := ParseFile(data, ParseOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got := rows[0].Fields["Nazwa"]; got != "Al�fa" {
		t.Errorf("Fields[Nazwa] = %q, want replacement rune kept", got)
	}
}

// ============================================================================
// XLSX parsing
// ============================================================================

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]any{
		{"Nazwa", "NIP"},
		{"Alfa", "5270103391"},
		{"Beta", "7740001454"},
	}
	for i, row := range cells {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	rows, err := ParseFile(buf.Bytes(), ParseOptions{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got := rows[0].Fields["NIP"]; got != "5270103391" {
		t.Errorf("Fields[NIP] = %q, want %q", got, "5270103391")
	}
	if rows[1].Number != 3 {
		t.Errorf("second row number = %d, want 3", rows[1].Number)
	}
}

func TestParseXLSXGarbage(t *testing.T) {
	_, err := ParseFile([]byte("not a zip archive"), ParseOptions{Format: FormatXLSX})
	if err == nil {
		t.Fatal("ParseFile succeeded, want error")
	}
	if !IsParseError(err) {
		t.Errorf("error %v is not a ParseError", err)
	}
}

// ============================================================================
// Format detection
// ============================================================================

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		fileName string
		want     FileFormat
	}{
		{"klienci.csv", FormatCSV},
		{"klienci.CSV", FormatCSV},
		{"klienci.xlsx", FormatXLSX},
		{"Klienci.XLSX", FormatXLSX},
		{"klienci.xlsm", FormatXLSX},
		{"klienci.txt", FormatCSV},
		{"klienci", FormatCSV},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			if got := DetectFormat(tt.fileName); got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.fileName, got, tt.want)
			}
		})
	}
}
