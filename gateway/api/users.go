package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ceyewan/hey/gateway/middleware"
	"github.com/ceyewan/hey/pkg/apperr"
	"github.com/ceyewan/hey/repo"
	"github.com/gin-gonic/gin"
)

const searchLimit = 20

// AddContactRequest 添加联系人请求
type AddContactRequest struct {
	ContactID string `json:"contactId" binding:"required,max=64"`
}

// SearchUsers 按用户名或邮箱搜索用户，不包含自己
func (h *HTTPHandler) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		middleware.Abort(c, apperr.Validation(map[string][]string{"q": {"is required"}}))
		return
	}

	me := currentUser(c)
	users, err := h.users.SearchUsers(c.Request.Context(), q, me.ID, searchLimit)
	if err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to search users."))
		return
	}
	c.JSON(http.StatusOK, newUserViews(users))
}

// AddContact 添加联系人，重复添加是幂等的
func (h *HTTPHandler) AddContact(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, bindError(err))
		return
	}
	ctx := c.Request.Context()
	me := currentUser(c)

	if req.ContactID == me.ID {
		middleware.Abort(c, apperr.New(apperr.KindValidation, "Cannot add yourself as a contact"))
		return
	}

	if _, err := h.users.GetUserByID(ctx, req.ContactID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			middleware.Abort(c, apperr.NotFound("User not found"))
			return
		}
		middleware.Abort(c, apperr.Persistence(err, "Failed to add contact."))
		return
	}

	if err := h.users.AddContact(ctx, me.ID, req.ContactID); err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to add contact."))
		return
	}
	c.JSON(http.StatusOK, &MessageResponse{Message: "Contact added successfully"})
}

// ListContacts 获取联系人列表
func (h *HTTPHandler) ListContacts(c *gin.Context) {
	contacts, err := h.users.ListContacts(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		middleware.Abort(c, apperr.Persistence(err, "Failed to load contacts."))
		return
	}
	c.JSON(http.StatusOK, newUserViews(contacts))
}

// RemoveContact 删除联系人，联系人不存在时同样返回成功
func (h *HTTPHandler) RemoveContact(c *gin.Context) {
	err := h.users.RemoveContact(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		middleware.Abort(c, apperr.Persistence(err, "Failed to remove contact."))
		return
	}
	c.JSON(http.StatusOK, &MessageResponse{Message: "Contact removed successfully"})
}
