package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formapi/internal/logger"
	"formapi/internal/middlewares"
	"formapi/internal/responses"
)

const (
	ProjectIDHeader        = "X-Project-Id"
	ParentProjectIDHeader  = "X-Parent-Project-Id"
	PrimaryProjectIDHeader = "X-Primary-Project-Id"
)

var errNotFound = errors.New("Not found")

// ResourceHandler forwards form and submission traffic for a resolved
// project to the resource server.
type ResourceHandler struct {
	proxy *httputil.ReverseProxy
}

// NewResourceHandler returns a forwarder for upstream. An empty upstream
// answers every request with 404.
func NewResourceHandler(upstream string) (*ResourceHandler, error) {
	if upstream == "" {
		return &ResourceHandler{}, nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("resource server url must be absolute")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.FromContext(r.Context()).Error("resource server request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}
	return &ResourceHandler{proxy: proxy}, nil
}

// Forward proxies the request, or answers 404 when there is no upstream or
// no project to forward for.
func (h *ResourceHandler) Forward(c *gin.Context) {
	hierarchy := middlewares.GetHierarchy(c)
	if h.proxy == nil || hierarchy == nil {
		responses.Fail(c, http.StatusNotFound, nil, errNotFound.Error())
		return
	}

	req := c.Request.Clone(c.Request.Context())
	if cached, ok := c.Get(gin.BodyBytesKey); ok {
		if body, ok := cached.([]byte); ok {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
			req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		}
	}

	req.Header.Set(ProjectIDHeader, hierarchy.Current.ID)
	req.Header.Set(ParentProjectIDHeader, hierarchy.Parent.ID)
	req.Header.Set(PrimaryProjectIDHeader, hierarchy.Primary.ID)
	if id := middlewares.GetRequestID(c); id != "" {
		req.Header.Set(middlewares.RequestIDHeader, id)
	}

	h.proxy.ServeHTTP(c.Writer, req)
}
