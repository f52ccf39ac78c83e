package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	sc "github.com/Masparrito/lactokeeper-sub001/internal/server/config"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	owners    []string
	ownersErr error
	docs      map[string][]*models.Document
	docsErr   map[string]error
}

func (f *fakeSource) Owners(context.Context) ([]string, error) { return f.owners, f.ownersErr }

func (f *fakeSource) Documents(_ context.Context, owner string) ([]*models.Document, error) {
	return f.docs[owner], f.docsErr[owner]
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func TestExportOnce_OneObjectPerOwnerAndKind(t *testing.T) {
	src := &fakeSource{
		owners: []string{"o1", "o2"},
		docs: map[string][]*models.Document{
			"o1": {
				{Kind: "animals", ID: "A1", OwnerID: "o1", Payload: map[string]any{"name": "Luna"}},
				{Kind: "animals", ID: "A2", OwnerID: "o1", Payload: map[string]any{}},
				{Kind: "lots", ID: "L1", OwnerID: "o1", Payload: map[string]any{}},
			},
			"o2": {{Kind: "events", ID: "E1", OwnerID: "o2", CreatedAt: 5, Payload: map[string]any{}}},
		},
	}
	up := &fakeUploader{}
	a := New(src, up, "farm-archive", time.Hour, logging.Nop())
	a.now = func() time.Time { return time.Unix(1760000000, 0) }

	n, err := a.ExportOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	body, ok := up.objects["farm-archive/owners/o1/animals/1760000000.json"]
	require.True(t, ok)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Luna", records[0]["name"])
	assert.Equal(t, "o1", records[0]["ownerId"])

	_, ok = up.objects["farm-archive/owners/o2/events/1760000000.json"]
	assert.True(t, ok)
}

func TestExportOnce_Errors(t *testing.T) {
	a := New(&fakeSource{ownersErr: errors.New("db down")}, &fakeUploader{}, "b", time.Hour, logging.Nop())
	_, err := a.ExportOnce(context.Background())
	require.Error(t, err)

	src := &fakeSource{
		owners: []string{"bad", "good"},
		docs: map[string][]*models.Document{
			"good": {{Kind: "lots", ID: "L1", OwnerID: "good"}},
		},
		docsErr: map[string]error{"bad": errors.New("boom")},
	}
	up := &fakeUploader{}
	a = New(src, up, "b", time.Hour, logging.Nop())
	n, err := a.ExportOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n, "other owners are still exported")

	a = New(src, &fakeUploader{err: errors.New("s3 down")}, "b", time.Hour, logging.Nop())
	n, err = a.ExportOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
}

func TestRun_ExportsUntilCancelled(t *testing.T) {
	src := &fakeSource{
		owners: []string{"o1"},
		docs:   map[string][]*models.Document{"o1": {{Kind: "lots", ID: "L1", OwnerID: "o1"}}},
	}
	up := &fakeUploader{}
	a := New(src, up, "b", 10*time.Millisecond, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return up.count() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewS3Client(t *testing.T) {
	c := &sc.Config{S3Region: "us-east-1", S3RootUser: "u", S3RootPassword: "p", S3BaseEndpoint: "http://127.0.0.1:9000/"}
	client, err := NewS3Client(context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "owners/o1/animals/100.json", Key("o1", "animals", time.Unix(100, 0)))
}
