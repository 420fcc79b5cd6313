package export

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"climatedata-api/internal/arrays"
)

// CelsiusUnits replaces Kelvin on variables that were already offset.
const CelsiusUnits = "degC"

// NetCDFOptions controls NetCDF.
type NetCDFOptions struct {
	// TempDir receives the scratch file.
	TempDir string
	// Celsius relabels Kelvin variables; the offset must already be applied.
	Celsius bool
	// Compress gzips the encoded file. The artifact then carries
	// EncodingGzip and Size is the compressed size.
	Compress bool
}

// NetCDF writes ds to a scratch file under opts.TempDir and returns the
// open file as the body. The file is unlinked before NetCDF returns, its
// storage is released when the artifact is closed. NetCDF output is always
// an attachment.
func NetCDF(filename string, ds *arrays.Dataset, opts NetCDFOptions) (*Artifact, error) {
	out := ds
	if opts.Celsius {
		out = RelabelCelsius(ds)
	}

	scratch, err := os.CreateTemp(opts.TempDir, "export-*.nc")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	path := scratch.Name()
	_ = scratch.Close()
	// WriteFile recreates the file
	_ = os.Remove(path)

	if err := arrays.WriteFile(path, out); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("reopen scratch file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unlink scratch file: %w", err)
	}

	encoding := ""
	if opts.Compress {
		gz, err := gzipScratch(f, opts.TempDir)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		f, encoding = gz, EncodingGzip
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat scratch file: %w", err)
	}

	return &Artifact{
		Filename:    filename,
		ContentType: ContentTypeNetCDF,
		Encoding:    encoding,
		Attachment:  true,
		Body:        f,
		Size:        info.Size(),
		closer:      f,
	}, nil
}

// gzipScratch compresses src into a new unlinked scratch file positioned at
// its start.
func gzipScratch(src io.Reader, dir string) (*os.File, error) {
	dst, err := os.CreateTemp(dir, "export-*.nc.gz")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	if err := os.Remove(dst.Name()); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("unlink scratch file: %w", err)
	}

	zw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		_ = dst.Close()
		return nil, err
	}
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("compress netcdf: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("compress netcdf: %w", err)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}
	return dst, nil
}

// RelabelCelsius returns a copy of ds whose "K" units read "degC".
func RelabelCelsius(ds *arrays.Dataset) *arrays.Dataset {
	out := ds.Clone()
	for _, v := range out.Vars {
		if v.Attrs.String("units") == "K" {
			v.Attrs.Set("units", CelsiusUnits)
		}
	}
	return out
}
