package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/server"
	"github.com/npezzotti/go-cloudclip/internal/types"
)

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

type ServerInfo struct {
	Server  string `json:"server"`
	Auth    bool   `json:"auth"`
	Version string `json:"version"`
}

type PublishResponse struct {
	Id   int64  `json:"id"`
	Type string `json:"type"`
	UUID string `json:"uuid,omitempty"`
	URL  string `json:"url"`
}

func (s *CloudClipApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *CloudClipApp) writeError(w http.ResponseWriter, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("request failed: %v", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func roomParam(r *http.Request) string {
	return r.URL.Query().Get("room")
}

func (s *CloudClipApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *CloudClipApp) serverInfo(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil || r.URL.Scheme == "https" {
		scheme = "wss"
	}

	s.writeJson(w, http.StatusOK, ServerInfo{
		Server:  scheme + "://" + r.Host + s.prefix + "/push",
		Auth:    s.gate.Enabled(),
		Version: s.rooms.Config().Version,
	})
}

func (s *CloudClipApp) publish(w http.ResponseWriter, r *http.Request, req server.PublishRequest) {
	req.SenderIP = clientIP(r)
	req.UserAgent = r.UserAgent()
	req.Token = tokenFromRequest(r)
	req.BaseURL = s.prefix

	// a publish in flight completes even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	msg, err := s.rooms.Publish(ctx, roomParam(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := PublishResponse{
		Id:   msg.Id,
		Type: string(msg.Kind),
		URL:  s.prefix + "/content/" + strconv.FormatInt(msg.Id, 10) + "?room=" + url.QueryEscape(msg.Room),
	}
	if msg.IsFile() {
		resp.UUID = msg.File.UUID
		resp.URL = msg.File.BlobURL
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *CloudClipApp) publishText(w http.ResponseWriter, r *http.Request) {
	// a rune is at most four bytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.textLimit)*4+1))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.publish(w, r, server.PublishRequest{Kind: types.KindText, Content: string(body)})
}

func (s *CloudClipApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.fileLimit+uploadOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, err)
			return
		}
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.publish(w, r, server.PublishRequest{
		Kind: types.KindFile,
		File: &server.FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		},
	})
}

func (s *CloudClipApp) getFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	if !blob.ValidID(id) {
		s.writeError(w, blob.ErrNotFound)
		return
	}

	obj, err := s.blobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = obj.DisplayName
	}

	disposition := "inline"
	if r.URL.Query().Get("download") == "true" {
		disposition = "attachment"
	}
	if name != "" {
		disposition = mime.FormatMediaType(disposition, map[string]string{"filename": name})
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("ETag", `"`+obj.Checksum+`"`)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, name, obj.CreatedAt, bytes.NewReader(obj.Data))
}

// deleteFile revokes the room's messages that carry the blob, which deletes
// the blob along with them.
func (s *CloudClipApp) deleteFile(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if err := s.gate.Check(token); err != nil {
		s.writeError(w, err)
		return
	}

	id := r.PathValue("uuid")
	if !blob.ValidID(id) {
		s.writeError(w, blob.ErrNotFound)
		return
	}

	if err := s.rooms.RevokeFile(r.Context(), roomParam(r), id, token); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"uuid": id})
}

func (s *CloudClipApp) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.Revoke(r.Context(), roomParam(r), id, tokenFromRequest(r)); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *CloudClipApp) revokeAll(w http.ResponseWriter, r *http.Request) {
	room := types.NormalizeRoom(roomParam(r))
	if err := s.rooms.RevokeAll(r.Context(), room, tokenFromRequest(r)); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"room": room})
}

// getContent serves a message by id, or the newest one for "latest".
func (s *CloudClipApp) getContent(w http.ResponseWriter, r *http.Request) {
	var id int64
	if raw := r.PathValue("id"); raw != "latest" {
		var err error
		id, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	msg, err := s.rooms.Lookup(r.Context(), roomParam(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch {
	case r.URL.Query().Get("json") == "true":
		s.writeJson(w, http.StatusOK, server.NewReceiveEvent(msg))
	case msg.IsFile():
		http.Redirect(w, r, msg.File.BlobURL, http.StatusFound)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, msg.Content)
	}
}

func (s *CloudClipApp) listRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.rooms.Rooms(r.Context()))
}

func (s *CloudClipApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

func (s *CloudClipApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	session, err := server.NewSession(conn, clientIP(r), r.UserAgent(), s.heartbeat, s.log)
	if err != nil {
		s.log.Printf("new session: %v", err)
		conn.Close()
		return
	}

	if err := s.rooms.Join(r.Context(), roomParam(r), session, tokenFromRequest(r)); err != nil {
		if errors.Is(err, server.ErrUnauthorized) {
			if err := session.SendForbidden(); err != nil {
				s.log.Printf("session %q: send forbidden: %v", session.Id, err)
			}
		} else {
			s.log.Printf("session %q: join: %v", session.Id, err)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		}
		conn.Close()
		return
	}

	go session.Write()
	go session.Read()
}
