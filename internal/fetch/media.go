package fetch

import (
	"bytes"
	"encoding/csv"

	"github.com/xuri/excelize/v2"
)

// xlsxSheet is one worksheet of a post-processed XLSX response (§4.3.c).
type xlsxSheet struct {
	Name string     `json:"name"`
	Data [][]string `json:"data"`
}

// postProcessMediaType applies §4.3.c's media-type post-processing:
// text/csv becomes a 2-D string matrix, XLSX becomes a list of named
// sheets, anything else is left as raw bytes. Parse failures fall back
// to raw bytes rather than failing the whole fetch — a malformed
// media-type hint shouldn't abort an otherwise-successful response.
func postProcessMediaType(mediaType string, body []byte) any {
	switch mediaType {
	case "text/csv":
		rows, err := parseCSVMatrix(body)
		if err != nil {
			return body
		}
		return rows

	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx":
		sheets, err := parseXLSXSheets(body)
		if err != nil {
			return body
		}
		return sheets

	default:
		return body
	}
}

func parseCSVMatrix(body []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func parseXLSXSheets(body []byte) ([]xlsxSheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []xlsxSheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, err
		}
		out = append(out, xlsxSheet{Name: name, Data: rows})
	}
	return out, nil
}
