package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/waterballsa/academy/internal/middleware"
	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/user"
)

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Provision(ctx context.Context, in user.ProvisionInput) (*model.User, error)
	UpdateRole(ctx context.Context, userID int64, role model.Role) error
	AwardExperience(ctx context.Context, userID int64, delta int) (int, error)
}

// AdminHandler は管理者向けのユーザー操作HTTPハンドラー。
type AdminHandler struct {
	service  AdminServiceInterface
	validate *validator.Validate
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{
		service:  service,
		validate: newValidator(),
	}
}

// provisionRequest はユーザー作成リクエストのボディ。
type provisionRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"required,max=200"`
	Role  string `json:"role" validate:"omitempty,oneof=GUEST STUDENT TEACHER ADMIN"`
}

// updateRoleRequest はロール変更リクエストのボディ。
type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=GUEST STUDENT TEACHER ADMIN"`
}

// awardExperienceRequest は経験値付与リクエストのボディ。
// 負の値はサービス層でINVALID_EXPERIENCEとして拒否する。
type awardExperienceRequest struct {
	Delta *int `json:"delta" validate:"required"`
}

// adminUserResponse は管理者APIのユーザー表現。
type adminUserResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Level int    `json:"level"`
	Exp   int    `json:"exp"`
}

// experienceResponse は経験値付与後の状態。
type experienceResponse struct {
	UserID          int64 `json:"user_id"`
	Exp             int   `json:"exp"`
	Level           int   `json:"level"`
	ExpForNextLevel int   `json:"exp_for_next_level"`
}

// ProvisionUser はIdPの紐付けを持たないユーザーを作成する。
// POST /api/admin/users
func (h *AdminHandler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !decodeJSONBody(w, r, h.validate, &req) {
		return
	}

	u, err := h.service.Provision(r.Context(), user.ProvisionInput{
		Email: req.Email,
		Name:  req.Name,
		Role:  model.Role(req.Role),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.audit(r, "provision_user", u.ID)
	writeJSON(w, http.StatusCreated, adminUserResponse{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  string(u.Role),
		Level: u.Level(),
		Exp:   u.Exp,
	})
}

// UpdateRole はユーザーのロールを変更する。
// 発行済みのアクセストークンには反映されず、次回のリフレッシュから有効になる。
// PATCH /api/admin/users/{id}/role
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserIDParam(w, r)
	if !ok {
		return
	}

	var req updateRoleRequest
	if !decodeJSONBody(w, r, h.validate, &req) {
		return
	}

	if err := h.service.UpdateRole(r.Context(), userID, model.Role(req.Role)); err != nil {
		handleServiceError(w, err)
		return
	}

	h.audit(r, "update_role", userID)
	w.WriteHeader(http.StatusNoContent)
}

// AwardExperience はユーザーに経験値を加算する。
// POST /api/admin/users/{id}/experience
func (h *AdminHandler) AwardExperience(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserIDParam(w, r)
	if !ok {
		return
	}

	var req awardExperienceRequest
	if !decodeJSONBody(w, r, h.validate, &req) {
		return
	}
	delta := *req.Delta

	exp, err := h.service.AwardExperience(r.Context(), userID, delta)
	if err != nil {
		if errors.Is(err, model.ErrInvalidExperience) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidExperienceError(delta))
			return
		}
		handleServiceError(w, err)
		return
	}

	h.audit(r, "award_experience", userID)
	writeJSON(w, http.StatusOK, experienceResponse{
		UserID:          userID,
		Exp:             exp,
		Level:           model.LevelForExp(exp),
		ExpForNextLevel: model.ExpForNextLevel(exp),
	})
}

// audit は管理者操作を記録する。
func (h *AdminHandler) audit(r *http.Request, action string, targetID int64) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("admin action",
		slog.String("action", action),
		slog.Int64("actor_id", actorID),
		slog.Int64("target_user_id", targetID),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
}

// parseUserIDParam はURLパラメータ{id}を正のユーザーIDとして解析する。
func parseUserIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid user id"))
		return 0, false
	}
	return id, true
}
