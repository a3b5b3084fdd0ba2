package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lexdesk/lexdesk/internal/adapters/acmesign"
	"github.com/lexdesk/lexdesk/internal/config"
)

var _ acmesign.Archiver = (*S3)(nil)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestPutUsesPrefixAndContentType(t *testing.T) {
	t.Parallel()

	fake := &fakePutter{}
	a := NewWithClient(fake, "firm-docs", "/signed/")
	if err := a.Put(context.Background(), "int-1/doc-9.pdf", strings.NewReader("%PDF-1.7"), "application/pdf"); err != nil {
		t.Fatalf("Put() error=%v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("PutObject calls=%d want 1", len(fake.inputs))
	}
	in := fake.inputs[0]
	if got := aws.ToString(in.Bucket); got != "firm-docs" {
		t.Fatalf("Bucket=%q want firm-docs", got)
	}
	if got := aws.ToString(in.Key); got != "signed/int-1/doc-9.pdf" {
		t.Fatalf("Key=%q want signed/int-1/doc-9.pdf", got)
	}
	if got := aws.ToString(in.ContentType); got != "application/pdf" {
		t.Fatalf("ContentType=%q want application/pdf", got)
	}
	if fake.bodies[0] != "%PDF-1.7" {
		t.Fatalf("body=%q", fake.bodies[0])
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix string
		key    string
		want   string
	}{
		{prefix: "signed", key: "a/b.pdf", want: "signed/a/b.pdf"},
		{prefix: "", key: "/a/b.pdf", want: "a/b.pdf"},
		{prefix: "signed", key: "a/../b.pdf", want: "signed/b.pdf"},
		{prefix: "signed", key: "  ", want: ""},
	}
	for _, tc := range cases {
		a := NewWithClient(&fakePutter{}, "b", tc.prefix)
		if got := a.objectKey(tc.key); got != tc.want {
			t.Fatalf("objectKey(%q, %q)=%q want %q", tc.prefix, tc.key, got, tc.want)
		}
	}
}

func TestPutErrors(t *testing.T) {
	t.Parallel()

	a := NewWithClient(&fakePutter{}, "b", "p")
	if err := a.Put(context.Background(), "", strings.NewReader("x"), ""); err == nil {
		t.Fatalf("Put(empty key) succeeded")
	}

	boom := errors.New("access denied")
	a = NewWithClient(&fakePutter{err: boom}, "b", "p")
	err := a.Put(context.Background(), "k.pdf", strings.NewReader("x"), "")
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "b/p/k.pdf") {
		t.Fatalf("Put() error=%v want wrapped access denied naming the object", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), config.ArchiveConfig{}); err == nil {
		t.Fatalf("New() without bucket succeeded")
	}
	_, err := New(context.Background(), config.ArchiveConfig{Bucket: "b", AccessKeyID: "AKIA"})
	if err == nil || !strings.Contains(err.Error(), "must be set together") {
		t.Fatalf("New() with half a key pair error=%v", err)
	}
}
