package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/tokenbridge/internal/middleware"
	"github.com/hitoshi/tokenbridge/internal/model"
)

// InfoHandler は認証済みユーザーの情報を返すHTTPハンドラー。
type InfoHandler struct {
	now func() time.Time
}

// NewInfoHandler はInfoHandlerを生成する。nowがnilの場合はtime.Nowを使う。
func NewInfoHandler(now func() time.Time) *InfoHandler {
	if now == nil {
		now = time.Now
	}
	return &InfoHandler{now: now}
}

type infoResponse struct {
	Time   int64  `json:"time"`
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

// GetInfo は現在時刻（Unix秒）と認証済みユーザーのemail、IDを返す。
// GET /v1/info
// トークン認証ミドルウェアの後段に配置する。
func (h *InfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		Time:   h.now().Unix(),
		Email:  user.Email,
		UserID: user.ID,
	})
}
