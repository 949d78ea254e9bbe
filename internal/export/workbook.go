package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// maxSheetRows is the Excel row limit per worksheet.
const maxSheetRows = 1048576

// WriteWorkbook writes one worksheet per bucket file in dir to w. Rows are
// streamed; a bucket with more rows than a sheet holds continues on
// "<bucket>_2", "<bucket>_3" and so on, each repeating the header.
func WriteWorkbook(w io.Writer, dir string) error {
	return writeWorkbook(w, dir, maxSheetRows)
}

func writeWorkbook(w io.Writer, dir string, sheetRows int) error {
	files, err := existingBuckets(dir)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, bf := range files {
		if err := writeBucketSheets(f, bf, sheetRows, &first); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeBucketSheets(f *excelize.File, bf bucketFile, sheetRows int, first *bool) error {
	src, err := os.Open(bf.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", bf.bucket.FileName(), err)
	}
	defer src.Close()

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil && err != io.EOF {
		return fmt.Errorf("read %s: %w", bf.bucket.FileName(), err)
	}

	part := 1
	var sw *excelize.StreamWriter
	row := 0

	open := func() error {
		name := string(bf.bucket)
		if part > 1 {
			name = fmt.Sprintf("%s_%d", bf.bucket, part)
		}
		if *first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
			*first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		var err error
		if sw, err = f.NewStreamWriter(name); err != nil {
			return err
		}
		row = 0
		if header != nil {
			return writeRow(sw, &row, header)
		}
		return nil
	}

	if err := open(); err != nil {
		return fmt.Errorf("sheet %s: %w", bf.bucket, err)
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", bf.bucket.FileName(), err)
		}
		if row >= sheetRows {
			if err := sw.Flush(); err != nil {
				return err
			}
			part++
			if err := open(); err != nil {
				return fmt.Errorf("sheet %s: %w", bf.bucket, err)
			}
		}
		if err := writeRow(sw, &row, rec); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", bf.bucket, row+1, err)
		}
	}
	return sw.Flush()
}

func writeRow(sw *excelize.StreamWriter, row *int, rec []string) error {
	*row++
	cell, err := excelize.CoordinatesToCellName(1, *row)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(rec))
	for i, v := range rec {
		vals[i] = v
	}
	return sw.SetRow(cell, vals)
}
