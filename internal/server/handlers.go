package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/pendergraft/pngprotect/internal/artifacts"
	"github.com/pendergraft/pngprotect/internal/validation"
)

const multipartMemory = 8 << 20

// readUpload reads the "file" part of a multipart request
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "The image exceeds the upload limit.")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form with a file field.")
		return "", nil, false
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing file field.")
		return "", nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read file.")
		return "", nil, false
	}
	if err := validation.ValidateImage(data); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FILE", err.Error())
		return "", nil, false
	}
	return filepath.Base(hdr.Filename), data, true
}

func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	owner := r.FormValue("owner_id")
	if err := validation.ValidateOwnerID(owner); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OWNER", err.Error())
		return
	}
	strength, err := validation.ParseStrength(r.FormValue("strength"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STRENGTH", err.Error())
		return
	}

	st, err := s.svc.ProtectFile(r.Context(), name, data, owner, strength)
	if err != nil {
		s.writeWorkflowError(w, err, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleProtectStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ProtectStatus())
}

func (s *Server) handleProtectArtifact(w http.ResponseWriter, r *http.Request) {
	st := s.svc.ProtectStatus()
	if st.Artifact == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No protected image is available.")
		return
	}

	path, err := s.artifacts.Path(st.Artifact)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "The protected image is no longer available.")
			return
		}
		s.logger.Error("resolving artifact", "artifact", st.Artifact, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the protected image.")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(downloadName(st.FileName, path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	st, err := s.svc.VerifyFile(r.Context(), name, data)
	if err != nil {
		s.writeWorkflowError(w, err, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleVerifyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.VerifyStatus())
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.WalletStatus())
}

func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ConnectWallet(r.Context())
	if err != nil {
		s.writeWorkflowError(w, err, snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.DisconnectWallet())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Register(r.Context())
	if err != nil {
		s.writeWorkflowError(w, err, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRegisterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.RegisterStatus())
}

// downloadName names the download after the uploaded file
func downloadName(original, path string) string {
	ext := filepath.Ext(path)
	if original == "" {
		return "protected" + ext
	}
	base := original[:len(original)-len(filepath.Ext(original))]
	return base + "_protected" + ext
}
