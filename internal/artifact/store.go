package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Ошибки хранилища артефактов.
var (
	// ErrNotFound — объекта с таким ключом нет.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey — ключ пустой или выходит за пределы префикса.
	ErrInvalidKey = errors.New("invalid artifact key")

	// ErrUnknownBackend — неизвестное значение ARTIFACT_BACKEND.
	ErrUnknownBackend = errors.New("unknown artifact backend")
)

// Store — объектное хранилище артефактов run.
//
// Реализации: MemoryStore, MinIOStore, S3Store.
type Store interface {
	// Put сохраняет объект. size может быть -1, если длина неизвестна.
	Put(ctx context.Context, key string, r io.Reader, size int64) (Object, error)

	// Get открывает объект на чтение; вызывающий закрывает reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, key string) (bool, error)
}

// Object — метаданные сохранённого объекта.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// DistKey — ключ собранного пакета: runs/<run-id>/dist/<file>.
func DistKey(runID uuid.UUID, file string) string {
	return path.Join("runs", runID.String(), "dist", path.Base(file))
}

// ReportKey — ключ отчёта тестовой конфигурации: runs/<run-id>/reports/<config-key>/<file>.
func ReportKey(runID uuid.UUID, configKey, file string) string {
	return path.Join("runs", runID.String(), "reports", configKey, path.Base(file))
}

// ValidateKey отвергает пустые и абсолютные ключи, а также ключи с "..".
func ValidateKey(key string) error {
	switch {
	case key == "", strings.HasPrefix(key, "/"):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.Contains(key, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidKey, key)
	}
	return nil
}

// sniff определяет content type по первым 512 байтам и возвращает reader,
// который отдаёт поток целиком.
func sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("read head: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	contentType := mtype.String()
	// Отчёт без XML-декларации mimetype считает текстом.
	if mtype.Is("text/plain") && looksLikeXML(head) {
		contentType = xmlContentType
	}
	return contentType, io.MultiReader(bytes.NewReader(head), r), nil
}

const xmlContentType = "application/xml"

func looksLikeXML(head []byte) bool {
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	head = bytes.TrimSpace(head)
	return len(head) > 1 && head[0] == '<' && (head[1] == '?' || head[1] == '!' || isNameStart(head[1]))
}

func isNameStart(c byte) bool {
	return c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// PutFile загружает локальный файл под ключом key.
func PutFile(ctx context.Context, store Store, key, file string) (Object, error) {
	f, err := os.Open(file)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", file, err)
	}

	return store.Put(ctx, key, f, info.Size())
}

// Download сохраняет объект key в файл dst, создавая каталоги.
func Download(ctx context.Context, store Store, key, dst string) error {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}
