package assetcache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	logx "ordersentry/pkg/logx"
)

const defaultPushBody = "Your order status has changed!"

// PushMessage is a decoded push payload.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	URL   string `json:"url"`
}

// PushSink renders a push payload as a user-visible notification.
type PushSink interface {
	Push(ctx context.Context, msg PushMessage)
}

// PushSinkFunc adapts a function to PushSink.
type PushSinkFunc func(ctx context.Context, msg PushMessage)

func (f PushSinkFunc) Push(ctx context.Context, msg PushMessage) { f(ctx, msg) }

// pushHandler accepts POST /push payloads and GET /notification/click
// callbacks from rendered notifications.
type pushHandler struct {
	sink    PushSink
	appName string
	shell   func() string
	log     logx.Logger
}

func (h *pushHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	msg := decodePush(raw)
	if msg.Title == "" {
		msg.Title = h.appName
	}
	if h.sink != nil {
		h.sink.Push(r.Context(), msg)
	}
	h.log.Debug("push accepted", logx.String("title", msg.Title))
	w.WriteHeader(http.StatusAccepted)
}

// decodePush parses a payload as JSON, degrading to plain text, then to the
// default body. Malformed pushes still produce a visible notification.
func decodePush(raw []byte) PushMessage {
	var msg PushMessage
	if err := json.Unmarshal(raw, &msg); err == nil && (msg.Title != "" || msg.Body != "") {
		if msg.Body == "" {
			msg.Body = defaultPushBody
		}
		return msg
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = defaultPushBody
	}
	return PushMessage{Body: text}
}

// handleClick resolves a notification click: the close action dismisses
// silently, anything else lands on the target URL or the shell page.
func (h *pushHandler) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") == "close" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	target := r.URL.Query().Get("url")
	if target == "" || !strings.HasPrefix(target, "/") {
		target = h.shell()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
