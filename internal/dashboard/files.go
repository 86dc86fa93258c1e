package dashboard

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) listFiles(c *gin.Context) {
	if s.deps.Files == nil {
		success(c, []any{})
		return
	}
	list, err := s.deps.Files.List(c.Request.Context(), c.Param("reqId"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, list)
}

func (s *Server) downloadFile(c *gin.Context) {
	if s.deps.LocalFiles == nil {
		notFound(c, "local file store disabled")
		return
	}
	path, err := s.deps.LocalFiles.Open(c.Param("reqId"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, c.Param("name"))
}
