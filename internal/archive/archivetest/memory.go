// Package archivetest provides an in-memory archive.Store.
package archivetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/polarfoxDev/wharf/internal/archive"
)

// Memory keeps uploaded objects in a map. The Fail fields inject errors;
// FailUploadOf limits FailUpload to object names containing it.
type Memory struct {
	BucketName   string
	FailUpload   error
	FailUploadOf string
	FailURL      error
	FailDelete   error

	mu      sync.Mutex
	objects map[string][]byte
	seq     int
	deleted []string
}

func New() *Memory {
	return &Memory{BucketName: "test-bucket", objects: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, r io.Reader, size int64, name string) (archive.Object, error) {
	if m.FailUpload != nil && strings.Contains(name, m.FailUploadOf) {
		return archive.Object{}, m.FailUpload
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return archive.Object{}, err
	}
	if size >= 0 && int64(buf.Len()) != size {
		return archive.Object{}, fmt.Errorf("short upload of %s: got %d bytes, want %d", name, buf.Len(), size)
	}
	m.mu.Lock()
	m.seq++
	key := fmt.Sprintf("%d-%s", m.seq, name)
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()

	loc, err := m.URL(ctx, key)
	if err != nil {
		return archive.Object{}, err
	}
	return archive.Object{Key: key, Bucket: m.BucketName, Location: loc}, nil
}

func (m *Memory) URL(_ context.Context, key string) (string, error) {
	if m.FailURL != nil {
		return "", m.FailURL
	}
	return "https://archive.test/" + m.BucketName + "/" + key + "?sig=fresh", nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// Object returns the stored bytes of key
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Len returns the number of stored objects
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Deleted returns the keys passed to Delete
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
