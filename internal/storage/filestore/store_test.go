package filestore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

const testMetadata = "filename d29ybGRfZG9taW5hdGlvbl9wbGFuLnBkZg==,is_confidential"

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, f storage.File) storage.File {
	t.Helper()
	created, err := s.Create(context.Background(), f)
	require.NoError(t, err)
	return created
}

// errReader yields data once, then fails like a destroyed stream.
type errReader struct {
	data []byte
	done bool
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, errors.New("stream destroyed")
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestCreate_ResolvesToFileWithZeroSize(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	f := storage.NewFile("1234", 1000)
	f.Metadata = testMetadata
	created := mustCreate(t, s, f)
	assert.Equal(t, "1234", created.ID)
	assert.Zero(t, created.Size)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Zero(t, got.Size)
	assert.Equal(t, int64(1000), got.UploadLength)
	assert.False(t, got.DeferLength)
	assert.Equal(t, testMetadata, got.Metadata)
}

func TestCreate_StoresDeferLength(t *testing.T) {
	s := newTestStore(t, Options{})
	mustCreate(t, s, storage.NewDeferredFile("1234"))

	got, err := s.GetOffset(context.Background(), "1234")
	require.NoError(t, err)
	assert.True(t, got.DeferLength)
	assert.Zero(t, got.UploadLength)
	assert.False(t, got.HasLength())
}

func TestCreate_RejectsDuplicateID(t *testing.T) {
	s := newTestStore(t, Options{})
	mustCreate(t, s, storage.NewFile("dup", 10))

	_, err := s.Create(context.Background(), storage.NewFile("dup", 10))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestCreate_Validation(t *testing.T) {
	s := newTestStore(t, Options{MaxSize: 100})
	ctx := context.Background()

	_, err := s.Create(ctx, storage.NewFile("../escape", 1))
	require.ErrorIs(t, err, storage.ErrInvalidID)

	_, err = s.Create(ctx, storage.NewFile("neg", -1))
	require.ErrorIs(t, err, storage.ErrInvalidLength)

	_, err = s.Create(ctx, storage.NewFile("big", 101))
	require.ErrorIs(t, err, storage.ErrMaxSizeExceeded)

	_, err = s.Create(ctx, storage.File{ID: "final", IsFinal: true, PartialUploads: []string{"a"}})
	require.ErrorIs(t, err, storage.ErrInvalidState)
}

func TestCreate_ZeroLengthUploadIsComplete(t *testing.T) {
	s := newTestStore(t, Options{})
	created := mustCreate(t, s, storage.NewFile("empty", 0))
	assert.True(t, created.IsComplete())

	size, err := s.Write(context.Background(), "empty", 0, strings.NewReader(""), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestHasExtension(t *testing.T) {
	s := newTestStore(t, Options{})
	assert.True(t, s.HasExtension("creation"))
	assert.True(t, s.HasExtension("termination"))
	assert.True(t, s.HasExtension("creation-defer-length"))
	assert.False(t, s.HasExtension("expiration"))
	assert.False(t, s.HasExtension("no-such-extension"))
	assert.False(t, s.HasExtension(""))

	withExpiry := newTestStore(t, Options{Expiration: time.Hour})
	assert.True(t, withExpiry.HasExtension("expiration"))

	minimal := newTestStore(t, Options{Extensions: []storage.Extension{storage.ExtCreation}})
	assert.False(t, minimal.HasExtension("termination"))
	require.ErrorIs(t, minimal.Remove(context.Background(), "x"), storage.ErrExtensionUnsupported)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	require.ErrorIs(t, s.Remove(ctx, "doesnt_exist"), storage.ErrNotFound)

	mustCreate(t, s, storage.NewDeferredFile("1234"))
	_, err := s.Write(ctx, "1234", 0, strings.NewReader("partial"), storage.WriteOpts{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "1234"))

	_, err = s.GetOffset(ctx, "1234")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Write(ctx, "1234", 7, strings.NewReader("more"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.DeclareUploadLength(ctx, "1234", 10), storage.ErrNotFound)
	require.ErrorIs(t, s.Remove(ctx, "1234"), storage.ErrNotFound)

	_, err = os.Stat(s.l.dataPath("1234"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.l.infoPath("1234"))
	require.True(t, os.IsNotExist(err))
}

func TestWrite_UnknownUpload(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Write(context.Background(), "doesnt_exist", 0, strings.NewReader("x"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWrite_ResolvesNewOffset(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	payload := bytes.Repeat([]byte("tus"), 1000)
	mustCreate(t, s, storage.NewFile("1234", int64(len(payload))))

	size, err := s.Write(ctx, "1234", 0, bytes.NewReader(payload), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, size, got.Size)
	assert.True(t, got.IsComplete())

	rc, err := s.GetReader(ctx, "1234")
	require.NoError(t, err)
	defer rc.Close()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestWrite_SequentialChunks(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("chunks", 11))

	size, err := s.Write(ctx, "chunks", 0, strings.NewReader("hello "), storage.WriteOpts{})
	require.NoError(t, err)
	require.Equal(t, int64(6), size)

	size, err = s.Write(ctx, "chunks", size, strings.NewReader("world"), storage.WriteOpts{})
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	rc, err := s.GetReader(ctx, "chunks")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "hello world", string(b))
}

func TestWrite_OffsetMismatchNeverChangesSize(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 100))
	_, err := s.Write(ctx, "1234", 0, strings.NewReader("abc"), storage.WriteOpts{})
	require.NoError(t, err)

	for _, off := range []int64{0, 2, 4, 100} {
		size, err := s.Write(ctx, "1234", off, strings.NewReader("zzz"), storage.WriteOpts{})
		require.ErrorIs(t, err, storage.ErrOffsetMismatch)
		var mm *storage.OffsetMismatchError
		require.True(t, errors.As(err, &mm))
		assert.Equal(t, int64(3), mm.Expected)
		assert.Equal(t, off, mm.Got)
		assert.Equal(t, int64(3), size)
	}

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Size)
}

func TestWrite_ZeroBytesIsNoop(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 10))

	size, err := s.Write(ctx, "1234", 0, strings.NewReader(""), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestWrite_DestroyedStreamKeepsFlushedBytes(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 100))

	size, err := s.Write(ctx, "1234", 0, &errReader{data: []byte("some data")}, storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrSourceStream)
	assert.Equal(t, int64(9), size)

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Size)

	// the client resumes from the reported offset
	size, err = s.Write(ctx, "1234", got.Size, strings.NewReader("!"), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestWrite_CanceledContextAbortsPromptly(t *testing.T) {
	s := newTestStore(t, Options{})
	mustCreate(t, s, storage.NewDeferredFile("1234"))

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Write(ctx, "1234", 0, pr, storage.WriteOpts{})
		done <- err
	}()

	_, err := pw.Write([]byte("abc"))
	require.NoError(t, err)
	cancel()
	// a destroyed stream unblocks the pending read
	_ = pw.CloseWithError(context.Canceled)

	select {
	case err := <-done:
		require.ErrorIs(t, err, storage.ErrSourceStream)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not return after cancellation")
	}

	got, err := s.GetOffset(context.Background(), "1234")
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Size, int64(3))
	assert.Zero(t, s.locks.Len())
}

func TestWrite_RejectsChunkExceedingLength(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 5))

	size, err := s.Write(ctx, "1234", 0, strings.NewReader("123456"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrLengthExceeded)
	assert.Zero(t, size)

	size, err = s.Write(ctx, "1234", 0, strings.NewReader("12345"), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = s.Write(ctx, "1234", 5, strings.NewReader("x"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrLengthExceeded)

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Size)
}

func TestWrite_DeferredUploadBoundedByMaxSize(t *testing.T) {
	s := newTestStore(t, Options{MaxSize: 4})
	ctx := context.Background()
	mustCreate(t, s, storage.NewDeferredFile("1234"))

	_, err := s.Write(ctx, "1234", 0, strings.NewReader("12345"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrMaxSizeExceeded)

	size, err := s.Write(ctx, "1234", 0, strings.NewReader("1234"), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestWrite_Checksum(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 20))

	good := sha1.Sum([]byte("hello"))
	size, err := s.Write(ctx, "1234", 0, strings.NewReader("hello"),
		storage.WriteOpts{Checksum: &storage.Checksum{Algorithm: "sha1", Sum: good[:]}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	size, err = s.Write(ctx, "1234", 5, strings.NewReader("world"),
		storage.WriteOpts{Checksum: &storage.Checksum{Algorithm: "sha1", Sum: good[:]}})
	require.ErrorIs(t, err, storage.ErrChecksumMismatch)
	assert.Equal(t, int64(5), size)

	_, err = s.Write(ctx, "1234", 5, strings.NewReader("world"),
		storage.WriteOpts{Checksum: &storage.Checksum{Algorithm: "crc1", Sum: good[:]}})
	require.ErrorIs(t, err, storage.ErrUnsupportedChecksum)

	// a checked chunk that breaks off is dropped entirely
	size, err = s.Write(ctx, "1234", 5, &errReader{data: []byte("wor")},
		storage.WriteOpts{Checksum: &storage.Checksum{Algorithm: "sha1", Sum: good[:]}})
	require.ErrorIs(t, err, storage.ErrSourceStream)
	assert.Equal(t, int64(5), size)

	rc, err := s.GetReader(ctx, "1234")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(b))
}

func TestWrite_TruncatesUnrecordedTail(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 10))
	_, err := s.Write(ctx, "1234", 0, strings.NewReader("abc"), storage.WriteOpts{})
	require.NoError(t, err)

	// simulate a crash after the data flush but before the record update
	df, err := os.OpenFile(s.l.dataPath("1234"), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = df.WriteString("GARBAGE")
	require.NoError(t, err)
	require.NoError(t, df.Close())

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Size)

	size, err := s.Write(ctx, "1234", 3, strings.NewReader("def"), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	b, err := os.ReadFile(s.l.dataPath("1234"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
}

func TestDeclareUploadLength(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	require.ErrorIs(t, s.DeclareUploadLength(ctx, "doesnt_exist", 10), storage.ErrNotFound)

	f := storage.NewDeferredFile("1234")
	f.Metadata = testMetadata
	mustCreate(t, s, f)

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, got.DeferLength)

	require.NoError(t, s.DeclareUploadLength(ctx, "1234", 10))

	got, err = s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.False(t, got.DeferLength)
	assert.Equal(t, int64(10), got.UploadLength)

	require.ErrorIs(t, s.DeclareUploadLength(ctx, "1234", 12), storage.ErrInvalidState)

	mustCreate(t, s, storage.NewFile("fixed", 10))
	require.ErrorIs(t, s.DeclareUploadLength(ctx, "fixed", 10), storage.ErrInvalidState)
}

func TestDeclareUploadLength_BelowStoredSize(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewDeferredFile("1234"))
	_, err := s.Write(ctx, "1234", 0, strings.NewReader("abcdef"), storage.WriteOpts{})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeclareUploadLength(ctx, "1234", 3), storage.ErrInvalidLength)
	require.NoError(t, s.DeclareUploadLength(ctx, "1234", 6))

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, got.IsComplete())
}

func TestWrite_ConcurrentSequentialOffsets(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	first := bytes.Repeat([]byte("a"), 64*1024)
	second := bytes.Repeat([]byte("b"), 32*1024)
	mustCreate(t, s, storage.NewFile("1234", int64(len(first)+len(second))))

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.Write(ctx, "1234", 0, pr, storage.WriteOpts{})
		return err
	})

	// once the pipe accepts bytes the first write holds the upload lock
	_, err := pw.Write(first[:1024])
	require.NoError(t, err)

	g.Go(func() error {
		_, err := s.Write(ctx, "1234", int64(len(first)), bytes.NewReader(second), storage.WriteOpts{})
		return err
	})

	_, err = pw.Write(first[1024:])
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, g.Wait())

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(len(first)+len(second)), got.Size)

	b, err := os.ReadFile(s.l.dataPath("1234"))
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte(nil), first...), second...), b)
	assert.Zero(t, s.locks.Len())
}

// When the later chunk reaches the lock first it is refused with the durable
// offset and leaves nothing behind; resending it after the earlier chunk works.
func TestWrite_LaterChunkFirstIsMismatchThenRetrySucceeds(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 10))

	size, err := s.Write(ctx, "1234", 5, strings.NewReader("world"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrOffsetMismatch)
	var om *storage.OffsetMismatchError
	require.ErrorAs(t, err, &om)
	assert.Equal(t, int64(0), om.Expected)
	assert.Equal(t, int64(5), om.Got)
	assert.Equal(t, int64(0), size)

	b, err := os.ReadFile(s.l.dataPath("1234"))
	require.NoError(t, err)
	assert.Empty(t, b)

	size, err = s.Write(ctx, "1234", 0, strings.NewReader("hello"), storage.WriteOpts{})
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	size, err = s.Write(ctx, "1234", 5, strings.NewReader("world"), storage.WriteOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	b, err = os.ReadFile(s.l.dataPath("1234"))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(b))
}

func TestWrite_ConcurrentSameOffsetOnlyOneWins(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewDeferredFile("1234"))

	const writers = 8
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := s.Write(ctx, "1234", 0, strings.NewReader("chunk"), storage.WriteOpts{})
			results <- err
		}()
	}

	var ok, mismatched int
	for i := 0; i < writers; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrOffsetMismatch):
			mismatched++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, mismatched)

	got, err := s.GetOffset(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Size)
}

func TestEndToEnd_DeclaredLength(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("e2e", 1000))

	size, err := s.Write(ctx, "e2e", 0, bytes.NewReader(make([]byte, 1000)), storage.WriteOpts{})
	require.NoError(t, err)
	require.Equal(t, int64(1000), size)

	got, err := s.GetOffset(ctx, "e2e")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Size)
	assert.Equal(t, int64(1000), got.UploadLength)

	_, err = s.Write(ctx, "e2e", 1000, strings.NewReader("extra"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrLengthExceeded)
}

func TestConcat(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for id, body := range map[string]string{"part-a": "hello ", "part-b": "world"} {
		f := storage.NewFile(id, int64(len(body)))
		f.IsPartial = true
		mustCreate(t, s, f)
		_, err := s.Write(ctx, id, 0, strings.NewReader(body), storage.WriteOpts{})
		require.NoError(t, err)
	}

	final, err := s.Concat(ctx, storage.File{ID: "final", PartialUploads: []string{"part-a", "part-b"}})
	require.NoError(t, err)
	assert.True(t, final.IsFinal)
	assert.Equal(t, int64(11), final.Size)
	assert.True(t, final.IsComplete())

	rc, err := s.GetReader(ctx, "final")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "hello world", string(b))

	_, err = s.Write(ctx, "final", 11, strings.NewReader("x"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrInvalidState)

	_, err = s.Concat(ctx, storage.File{ID: "final", PartialUploads: []string{"part-a"}})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestConcat_RejectsUnfinishedOrNonPartial(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	p := storage.NewFile("open-part", 10)
	p.IsPartial = true
	mustCreate(t, s, p)
	mustCreate(t, s, storage.NewFile("plain", 0))

	_, err := s.Concat(ctx, storage.File{ID: "f1", PartialUploads: []string{"open-part"}})
	require.ErrorIs(t, err, storage.ErrUploadNotFinished)

	_, err = s.Concat(ctx, storage.File{ID: "f2", PartialUploads: []string{"plain"}})
	require.ErrorIs(t, err, storage.ErrInvalidState)

	_, err = s.Concat(ctx, storage.File{ID: "f3", PartialUploads: []string{"missing"}})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Concat(ctx, storage.File{ID: "f4"})
	require.ErrorIs(t, err, storage.ErrInvalidState)

	_, err = s.GetOffset(ctx, "f1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcat_RefusesFinalInFlight(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustCreate(t, s, storage.File{ID: "p1", UploadLength: 0, IsPartial: true})

	s.markFinal("busy")
	_, err := s.Concat(ctx, storage.File{ID: "fin", PartialUploads: []string{"p1", "busy"}})
	require.ErrorIs(t, err, storage.ErrInvalidState)
	s.unmarkFinal("busy")

	_, err = s.GetOffset(ctx, "fin")
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, s.locks.Len())
}

func TestConcat_CrossedFinalsDoNotDeadlock(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() {
		_, err := s.Concat(ctx, storage.File{ID: "finA", PartialUploads: []string{"finB"}})
		errs <- err
	}()
	go func() {
		_, err := s.Concat(ctx, storage.File{ID: "finB", PartialUploads: []string{"finA"}})
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, Options{Expiration: time.Hour, Now: clock})
	ctx := context.Background()

	created := mustCreate(t, s, storage.NewFile("1234", 10))
	assert.Equal(t, now.Add(time.Hour), created.ExpiresAt)

	now = now.Add(2 * time.Hour)
	_, err := s.Write(ctx, "1234", 0, strings.NewReader("x"), storage.WriteOpts{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemoveExpired_RechecksUnderLock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, Options{Expiration: time.Hour, Now: clock})
	ctx := context.Background()

	mustCreate(t, s, storage.NewDeferredFile("late"))
	_, err := s.Write(ctx, "late", 0, strings.NewReader("abc"), storage.WriteOpts{})
	require.NoError(t, err)
	mustCreate(t, s, storage.NewFile("stale", 10))
	mustCreate(t, s, storage.NewFile("fresh", 10))

	_, removed, err := s.RemoveExpired(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, removed)

	now = now.Add(2 * time.Hour)

	// completed after the sweeper listed it
	require.NoError(t, s.DeclareUploadLength(ctx, "late", 3))
	f, removed, err := s.RemoveExpired(ctx, "late")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, f.IsComplete())
	_, err = s.GetOffset(ctx, "late")
	require.NoError(t, err)

	f, removed, err = s.RemoveExpired(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "stale", f.ID)
	_, err = s.GetOffset(ctx, "stale")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = os.Stat(s.l.dataPath("stale"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, _, err = s.RemoveExpired(ctx, "stale")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemoveExpired_WithoutTermination(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newTestStore(t, Options{
		Expiration: time.Hour,
		Now:        clock,
		Extensions: []storage.Extension{storage.ExtCreation, storage.ExtExpiration},
	})
	ctx := context.Background()
	mustCreate(t, s, storage.NewFile("1234", 10))

	require.ErrorIs(t, s.Remove(ctx, "1234"), storage.ErrExtensionUnsupported)

	now = now.Add(2 * time.Hour)
	_, removed, err := s.RemoveExpired(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestList(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	mustCreate(t, s, storage.NewFile("aaaa", 1))
	mustCreate(t, s, storage.NewFile("bbbb", 1))
	require.NoError(t, s.Remove(ctx, "aaaa"))

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bbbb", list[0].ID)
}

func TestClose(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.Close())

	_, err := s.Create(context.Background(), storage.NewFile("x", 1))
	require.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.GetOffset(context.Background(), "x")
	require.ErrorIs(t, err, storage.ErrClosed)
}
