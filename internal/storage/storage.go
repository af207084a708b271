package storage

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nfnt/resize"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
)

const (
	ThumbnailSize    = 300
	thumbnailQuality = 85
	thumbnailSuffix  = "_thumb.jpg"
)

// extensions maps accepted content types to the extension stored files get.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

var (
	validName    = regexp.MustCompile(`^[a-f0-9]{32}(\.jpg|\.png|_thumb\.jpg)$`)
	originalName = regexp.MustCompile(`^[a-f0-9]{32}\.(jpg|png)$`)
)

type Storage struct {
	uploadDir string
	maxSize   int64
}

// StoredFile describes an upload after it has been written to the upload dir.
type StoredFile struct {
	Filename    string // <md5><ext>
	ContentType string
	Size        int64
}

func NewStorage(uploadDir string, maxSize int64) (*Storage, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, err
	}
	return &Storage{uploadDir: uploadDir, maxSize: maxSize}, nil
}

func (s *Storage) SaveFile(file io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		slog.Error("Failed to create file", "path", path, "error", err)
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, file)
	if err != nil {
		slog.Error("Failed to save file", "path", path, "error", err)
	}
	return err
}

func (s *Storage) DeleteFile(path string) error {
	return os.Remove(path)
}

func (s *Storage) GetFilePath(filename string) string {
	return filepath.Join(s.uploadDir, filename)
}

func (s *Storage) Exists(filename string) bool {
	_, err := os.Stat(s.GetFilePath(filename))
	return err == nil
}

// ValidName reports whether filename could have been produced by Put or
// Thumbnail. Anything else is rejected before touching the file system.
func ValidName(filename string) bool {
	return validName.MatchString(filename)
}

// IsOriginal reports whether filename names an upload rather than a thumbnail.
func IsOriginal(filename string) bool {
	return originalName.MatchString(filename)
}

// ThumbnailName returns the name of the thumbnail for a stored file.
func ThumbnailName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + thumbnailSuffix
}

// Upload is content buffered in the upload dir under a temporary name until
// Commit writes it under its content hash. Close it when done.
type Upload struct {
	StoredFile
	storage *Storage
	temp    *os.File
}

// Stage buffers r and names it by its MD5 sum. Only PNG and JPEG content is
// accepted.
func (s *Storage) Stage(r io.Reader) (*Upload, error) {
	tempFile, err := os.CreateTemp(s.uploadDir, "upload-*")
	if err != nil {
		return nil, err
	}
	u := &Upload{storage: s, temp: tempFile}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tempFile, hash), src)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		u.Close()
		return nil, ErrTooLarge
	}

	mimeType, err := detectMIME(tempFile)
	if err != nil {
		u.Close()
		return nil, err
	}
	ext, ok := extensions[mimeType]
	if !ok {
		u.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	u.StoredFile = StoredFile{
		Filename:    hex.EncodeToString(hash.Sum(nil)) + ext,
		ContentType: mimeType,
		Size:        size,
	}
	return u, nil
}

// Commit writes the staged content under its name. Content that is already
// stored is left alone.
func (u *Upload) Commit() error {
	if u.storage.Exists(u.Filename) {
		return nil
	}
	if _, err := u.temp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return u.storage.SaveFile(u.temp, u.storage.GetFilePath(u.Filename))
}

// Close removes the temporary copy.
func (u *Upload) Close() error {
	u.temp.Close()
	return os.Remove(u.temp.Name())
}

// Put stages and commits r in one step.
func (s *Storage) Put(r io.Reader) (*StoredFile, error) {
	u, err := s.Stage(r)
	if err != nil {
		return nil, err
	}
	defer u.Close()
	if err := u.Commit(); err != nil {
		return nil, err
	}
	stored := u.StoredFile
	return &stored, nil
}

// Thumbnail writes a JPEG no larger than ThumbnailSize on either side next to
// the stored file and returns its name. An existing thumbnail is reused.
func (s *Storage) Thumbnail(filename string) (string, error) {
	thumbName := ThumbnailName(filename)
	if s.Exists(thumbName) {
		return thumbName, nil
	}

	f, err := os.Open(s.GetFilePath(filename))
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filename, err)
	}
	thumbnail := resize.Thumbnail(ThumbnailSize, ThumbnailSize, img, resize.Lanczos3)

	out, err := os.Create(s.GetFilePath(thumbName))
	if err != nil {
		return "", err
	}
	defer out.Close()
	if err := jpeg.Encode(out, thumbnail, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return thumbName, nil
}

// Remove deletes a stored file and its thumbnail.
func (s *Storage) Remove(filename string) error {
	var errs []error
	for _, name := range []string{filename, ThumbnailName(filename)} {
		if err := s.DeleteFile(s.GetFilePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func detectMIME(file io.ReadSeeker) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}
