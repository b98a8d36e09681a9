package util

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// HashToken returns the first n hex characters of the MD5 of s.
// Used as the total fallback cache key when no service pattern matches.
func HashToken(s string, n int) string {
	sum := md5.Sum([]byte(s))
	token := hex.EncodeToString(sum[:])
	if n > 0 && n < len(token) {
		return token[:n]
	}
	return token
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// CopyFile copies src to dst, creating parent directories. The source file
// is left in place so callers keep ownership of their temp paths.
func CopyFile(src, dst string) (int64, error) {
	if src == dst {
		return FileSize(src), nil
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return written, nil
}

func VerifyMD5(filePath, expected string) (bool, error) {
	if expected == "" {
		return true, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false, err
	}

	calculated := hex.EncodeToString(hash.Sum(nil))
	return calculated == expected, nil
}

type ProgressFunc func(written, total int64)

func CopyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	if progress == nil {
		return io.Copy(dst, src)
	}

	buf := make([]byte, 32*1024)
	var written int64

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
				progress(written, total)
			}
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
