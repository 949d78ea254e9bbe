package export

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// WriteZip writes a deflated archive of the bucket files in dir to w and
// returns the number of files archived.
func WriteZip(w io.Writer, dir string) (int, error) {
	files, err := existingBuckets(dir)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	for _, bf := range files {
		if err := addFile(zw, bf); err != nil {
			zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	return len(files), nil
}

func addFile(zw *zip.Writer, bf bucketFile) error {
	hdr, err := zip.FileInfoHeader(bf.info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", bf.info.Name(), err)
	}
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", hdr.Name, err)
	}

	src, err := os.Open(bf.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", hdr.Name, err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("compress %s: %w", hdr.Name, err)
	}
	return nil
}
