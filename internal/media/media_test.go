package media

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestInlineStore(t *testing.T) {
	url, err := NewInlineStore().Put(context.Background(), uuid.New(), "audio/wav", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "data:audio/wav;base64,UklGRg==", url)
}

func TestS3StorePut(t *testing.T) {
	id := uuid.MustParse("6f1c0f9e-3a43-4c1e-9b53-2f7f0a8d1e01")
	fake := &fakePutter{}
	store := newS3Store(fake, S3Config{Bucket: "audio", Region: "eu-west-1", Prefix: "consultations"})
	store.now = func() time.Time { return time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC) }

	url, err := store.Put(context.Background(), id, "audio/wav", []byte("data"))
	require.NoError(t, err)

	assert.Equal(t, "audio", *fake.input.Bucket)
	assert.Equal(t, "consultations/2025/04/09/"+id.String()+".wav", *fake.input.Key)
	assert.Equal(t, "audio/wav", *fake.input.ContentType)
	assert.Equal(t, []byte("data"), fake.body)
	assert.Equal(t, "https://audio.s3.eu-west-1.amazonaws.com/consultations/2025/04/09/"+id.String()+".wav", url)
}

func TestS3StorePutKeepsContainerExtension(t *testing.T) {
	id := uuid.MustParse("6f1c0f9e-3a43-4c1e-9b53-2f7f0a8d1e01")
	fake := &fakePutter{}
	store := newS3Store(fake, S3Config{Bucket: "audio", Region: "eu-west-1"})
	store.now = func() time.Time { return time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC) }

	_, err := store.Put(context.Background(), id, "audio/webm;codecs=opus", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "2025/04/09/"+id.String()+".webm", *fake.input.Key)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"audio/wav":              ".wav",
		"audio/x-wav":            ".wav",
		"AUDIO/WEBM":             ".webm",
		"audio/webm;codecs=opus": ".webm",
		"audio/ogg":              ".ogg",
		"audio/mpeg":             ".mp3",
		"audio/mp4":              ".m4a",
		"application/pdf":        ".pdf",
		"application/x-unknown":  ".bin",
		"":                       ".bin",
	}
	for contentType, want := range cases {
		assert.Equal(t, want, Extension(contentType), contentType)
	}
}

func TestS3ObjectURL(t *testing.T) {
	s := newS3Store(&fakePutter{}, S3Config{Bucket: "b", Endpoint: "http://minio:9000/"})
	assert.Equal(t, "http://minio:9000/b/k.wav", s.objectURL("k.wav"))

	s = newS3Store(&fakePutter{}, S3Config{Bucket: "b", PublicURL: "https://cdn.example.com/"})
	assert.Equal(t, "https://cdn.example.com/k.wav", s.objectURL("k.wav"))
}

func TestS3StoreError(t *testing.T) {
	store := newS3Store(&fakePutter{err: errors.New("denied")}, S3Config{Bucket: "b"})
	_, err := store.Put(context.Background(), uuid.New(), "audio/wav", nil)
	assert.ErrorContains(t, err, "denied")
}
