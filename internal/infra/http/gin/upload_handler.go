package ginserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainchat "chatter/internal/domain/chat"
	"chatter/internal/infra/storage/s3"
)

type UploadHTTP interface {
	Upload(c *gin.Context)
}

// UploadHandler stores a multipart file in the object store and returns the
// attachment descriptor the client then embeds in a message.
type UploadHandler struct {
	Uploader s3.Uploader
	Logger   *slog.Logger
}

const maxUploadSize = 32 << 20 // 32 MiB

func (h UploadHandler) Upload(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key := fmt.Sprintf("u%d/%s%s", p.ID, uuid.NewString(), filepath.Ext(header.Filename))
	url, err := h.Uploader.Upload(c.Request.Context(), key, file, contentType)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("upload failed", "key", key, "error", err)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachment": domainchat.Attachment{
		Path: url,
		Name: header.Filename,
		MIME: contentType,
		Size: header.Size,
	}})
}

var _ UploadHTTP = (*UploadHandler)(nil)
