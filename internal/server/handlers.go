package server

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/DanikLP1/tus-storage-service/internal/metadata"
	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set(hdrTusVersion, TusVersion)
	if exts := s.storage.Extensions(); exts.Len() > 0 {
		h.Set(hdrTusExtension, exts.String())
	}
	if s.maxSize > 0 {
		h.Set(hdrTusMaxSize, strconv.FormatInt(s.maxSize, 10))
	}
	if s.storage.HasExtension(string(storage.ExtChecksum)) {
		h.Set(hdrTusChecksumAlg, strings.Join(storage.SupportedChecksums(), ","))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r)

	partial, parts, err := s.parseConcat(r.Header.Get(hdrUploadConcat))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	md, err := metadata.Decode(r.Header.Get(hdrUploadMetadata))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	encoded, err := metadata.Encode(md)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := storage.NewID()
	var f storage.File

	if parts != nil {
		// final uploads take their length from the partials
		f, err = s.storage.Concat(r.Context(), storage.File{ID: id, Metadata: encoded, PartialUploads: parts})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		nf, err := s.lengthFromHeaders(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		nf.ID = id
		nf.Metadata = encoded
		nf.IsPartial = partial
		if f, err = s.storage.Create(r.Context(), nf); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	url := s.uploadURL(r, f.ID)
	h := w.Header()
	h.Set("Location", url)
	if !f.ExpiresAt.IsZero() {
		h.Set(hdrUploadExpires, formatExpires(f.ExpiresAt))
	}
	s.storage.PublishEndpoint(f, url)
	log.Info("tus.created", slog.String("upload_id", f.ID), slog.Bool("partial", f.IsPartial), slog.Bool("final", f.IsFinal))

	// creation-with-upload: the body carries the first chunk
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); parts == nil && ct == offsetContentType &&
		s.storage.HasExtension(string(storage.ExtCreationWithUpload)) {
		opts, err := writeOpts(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		size, err := s.storage.Write(r.Context(), f.ID, 0, r.Body, opts)
		h.Set(hdrUploadOffset, strconv.FormatInt(size, 10))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

// lengthFromHeaders builds the length part of a new upload from
// Upload-Length or Upload-Defer-Length.
func (s *Server) lengthFromHeaders(r *http.Request) (storage.File, error) {
	length, hasLength, err := parseOffset(r, hdrUploadLength)
	if err != nil {
		return storage.File{}, err
	}
	deferValue := r.Header.Get(hdrUploadDeferLength)
	switch {
	case hasLength && deferValue != "":
		return storage.File{}, errAmbiguousLength
	case deferValue != "":
		if deferValue != "1" {
			return storage.File{}, errInvalidDefer
		}
		return storage.NewDeferredFile(""), nil
	case !hasLength:
		return storage.File{}, errMissingLength
	}
	return storage.NewFile("", length), nil
}

func writeOpts(r *http.Request) (storage.WriteOpts, error) {
	v := r.Header.Get(hdrUploadChecksum)
	if v == "" {
		return storage.WriteOpts{}, nil
	}
	c, err := storage.ParseChecksum(v)
	if err != nil {
		return storage.WriteOpts{}, err
	}
	return storage.WriteOpts{Checksum: c}, nil
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request, id string) {
	f, err := s.storage.GetOffset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Expired(s.now()) && !f.IsComplete() {
		s.writeError(w, r, storage.ErrNotFound)
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set(hdrUploadOffset, strconv.FormatInt(f.Size, 10))
	if f.DeferLength {
		h.Set(hdrUploadDeferLength, "1")
	} else {
		h.Set(hdrUploadLength, strconv.FormatInt(f.UploadLength, 10))
	}
	if f.Metadata != "" {
		h.Set(hdrUploadMetadata, f.Metadata)
	}
	if c := s.concatHeader(r, f); c != "" {
		h.Set(hdrUploadConcat, c)
	}
	if !f.ExpiresAt.IsZero() && !f.IsComplete() {
		h.Set(hdrUploadExpires, formatExpires(f.ExpiresAt))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) concatHeader(r *http.Request, f storage.File) string {
	switch {
	case f.IsPartial:
		return "partial"
	case f.IsFinal:
		urls := make([]string, 0, len(f.PartialUploads))
		for _, id := range f.PartialUploads {
			urls = append(urls, s.uploadURL(r, id))
		}
		return "final;" + strings.Join(urls, " ")
	}
	return ""
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, id string) {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != offsetContentType {
		s.writeError(w, r, errInvalidContentType)
		return
	}
	offset, ok, err := parseOffset(r, hdrUploadOffset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errMissingOffset)
		return
	}
	opts, err := writeOpts(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := s.storage.GetOffset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.IsFinal {
		s.writeError(w, r, errModifyFinal)
		return
	}

	length, hasLength, err := parseOffset(r, hdrUploadLength)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if hasLength {
		switch {
		case f.DeferLength:
			if err := s.storage.DeclareUploadLength(r.Context(), id, length); err != nil {
				s.writeError(w, r, err)
				return
			}
		case length != f.UploadLength:
			s.writeError(w, r, errLengthFixed)
			return
		}
	}

	size, err := s.storage.Write(r.Context(), id, offset, r.Body, opts)
	h := w.Header()
	h.Set(hdrUploadOffset, strconv.FormatInt(size, 10))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !f.ExpiresAt.IsZero() {
		h.Set(hdrUploadExpires, formatExpires(f.ExpiresAt))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.storage.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGet streams the stored bytes; incomplete uploads yield what has
// arrived so far.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	f, err := s.storage.GetOffset(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, err := s.storage.GetReader(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	if md, err := metadata.Decode(f.Metadata); err != nil {
		loggerFrom(r).Debug("download.metadata_invalid", "upload_id", id, "err", err)
	} else if name, ok := md.Get("filename"); ok {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": string(name)}))
	}
	h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.WriteHeader(http.StatusOK)

	// a write may land after GetOffset; serve exactly the advertised bytes
	if n, err := io.CopyN(w, rc, f.Size); err != nil {
		loggerFrom(r).Warn("download.interrupted", "upload_id", id, "bytes", n, "err", err)
	}
}
