package xhttp

import (
	"github.com/fasthttp/router"
)

type Router = router.Router
type Group = router.Group

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router with trailing-slash redirects and
// JSON-free 404/405 handling.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = NotFoundHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	ctx.Error(StatusText(StatusNotFound), StatusNotFound)
}
