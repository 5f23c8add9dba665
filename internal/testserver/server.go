// Package testserver is an in-memory upload service speaking the same HTTP
// API as the real one. It backs the client tests and local experiments.
package testserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

type upload struct {
	id        string
	fileName  string
	totalSize int64
	chunks    map[int][]byte
	content   []byte
	completed bool
	createdAt time.Time
}

func (u *upload) indices() []int {
	indices := make([]int, 0, len(u.chunks))
	for i := range u.chunks {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

func (u *upload) view() session.View {
	createdAt := u.createdAt
	return session.View{
		ID:             u.id,
		FileName:       u.fileName,
		TotalSize:      u.totalSize,
		UploadedChunks: u.indices(),
		CreatedAt:      &createdAt,
	}
}

// Server keeps every upload in memory.
type Server struct {
	// Token, when set, is required as a bearer token on the upload API.
	Token string

	mu       sync.Mutex
	uploads  map[string]*upload
	order    []string
	rejected map[int]int
	requests map[string]int
}

// New ...
func New() *Server {
	return &Server{
		uploads:  map[string]*upload{},
		rejected: map[int]int{},
		requests: map[string]int{},
	}
}

// RejectChunk makes the next times uploads of the chunk at index fail with
// 400 Bad Request.
func (s *Server) RejectChunk(index, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[index] = times
}

// Requests returns how many requests reached the named route, e.g.
// "uploadedChunks" or "chunk".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Chunks returns the stored chunk indices of an upload.
func (s *Server) Chunks(id string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[id]; ok {
		return u.indices()
	}
	return nil
}

// Content returns the assembled file of a completed upload.
func (s *Server) Content(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok || !u.completed {
		return nil, false
	}
	return u.content, true
}

// Handler returns the routes of the service.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/upload", s.authorize)
	api.POST("/init", s.count("init"), s.initUpload)
	api.GET("/finished", s.count("finished"), s.listUploads(true))
	api.GET("/unfinished", s.count("unfinished"), s.listUploads(false))
	api.GET("/:id/uploadedChunks", s.count("uploadedChunks"), s.uploadedChunks)
	api.PATCH("/:id/chunk", s.count("chunk"), s.putChunk)
	api.POST("/:id/complete", s.count("complete"), s.complete)

	r.GET("/download/:id", s.download)
	r.GET("/download/:id/zip", s.downloadZip)

	return r
}

func (s *Server) count(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.requests[route]++
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) authorize(c *gin.Context) {
	if s.Token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

func (s *Server) initUpload(c *gin.Context) {
	fileName := c.Query("fileName")
	totalSize, err := strconv.ParseInt(c.Query("totalSize"), 10, 64)
	if fileName == "" || err != nil || totalSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileName and a non-negative totalSize are required"})
		return
	}

	u := &upload{
		id:        uuid.NewString(),
		fileName:  fileName,
		totalSize: totalSize,
		chunks:    map[int][]byte{},
		createdAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.uploads[u.id] = u
	s.order = append(s.order, u.id)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"uploadId": u.id, "fileName": u.fileName, "totalSize": u.totalSize})
}

// lookup must be called with s.mu held.
func (s *Server) lookup(c *gin.Context) (*upload, bool) {
	u, ok := s.uploads[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
	}
	return u, ok
}

func (s *Server) uploadedChunks(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u.indices())
}

func (s *Server) putChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunkIndex"})
		return
	}
	header, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing chunk"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.lookup(c)
	if !ok {
		return
	}
	if u.completed {
		c.JSON(http.StatusConflict, gin.H{"error": "upload already completed"})
		return
	}
	if s.rejected[index] > 0 {
		s.rejected[index]--
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("chunk %d rejected", index)})
		return
	}
	u.chunks[index] = data
	c.JSON(http.StatusOK, gin.H{"chunkIndex": index})
}

func (s *Server) complete(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.lookup(c)
	if !ok {
		return
	}
	if u.completed {
		c.JSON(http.StatusOK, u.view())
		return
	}

	var content bytes.Buffer
	for i, index := range u.indices() {
		if i != index {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("chunk %d is missing", i)})
			return
		}
		content.Write(u.chunks[index])
	}
	if int64(content.Len()) != u.totalSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("assembled %d of %d bytes", content.Len(), u.totalSize)})
		return
	}

	u.content = content.Bytes()
	u.completed = true
	c.JSON(http.StatusOK, u.view())
}

func (s *Server) listUploads(completed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()

		views := make([]session.View, 0)
		for _, id := range s.order {
			if u := s.uploads[id]; u.completed == completed {
				views = append(views, u.view())
			}
		}
		c.JSON(http.StatusOK, views)
	}
}

func (s *Server) finished(c *gin.Context) (*upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[c.Param("id")]
	if !ok || !u.completed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no finished upload"})
		return nil, false
	}
	return u, true
}

func (s *Server) download(c *gin.Context) {
	u, ok := s.finished(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", u.fileName))
	http.ServeContent(c.Writer, c.Request, u.fileName, u.createdAt, bytes.NewReader(u.content))
}

func (s *Server) downloadZip(c *gin.Context) {
	u, ok := s.finished(c)
	if !ok {
		return
	}

	var archive bytes.Buffer
	w := zip.NewWriter(&archive)
	f, err := w.Create(u.fileName)
	if err == nil {
		_, err = f.Write(u.content)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSuffix(u.fileName, ".zip") + ".zip"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(c.Writer, c.Request, name, u.createdAt, bytes.NewReader(archive.Bytes()))
}
