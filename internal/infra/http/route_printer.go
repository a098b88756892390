package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method  string `json:"method" yaml:"method"`
	Path    string `json:"path" yaml:"path"`
	Handler string `json:"handler" yaml:"handler"`
}

// RouteFilters narrows the printed routes.
type RouteFilters struct {
	Method     string
	PathPrefix string
}

// CollectRoutes walks the router and returns its routes sorted by path then method.
func CollectRoutes(router Router) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string, handler http.Handler) error {
		routes = append(routes, RouteInfo{Method: method, Path: path, Handler: handlerName(handler)})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

func handlerName(h http.Handler) string {
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			return strings.TrimSuffix(name, "-fm")
		}
	}
	return fmt.Sprintf("%T", h)
}

// FilterRoutes keeps the routes matching every set filter.
func FilterRoutes(routes []RouteInfo, f RouteFilters) []RouteInfo {
	out := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		if f.Method != "" && !strings.EqualFold(r.Method, f.Method) {
			continue
		}
		if f.PathPrefix != "" && !strings.HasPrefix(r.Path, f.PathPrefix) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PrintRoutes writes routes as a table, json or yaml.
func PrintRoutes(w io.Writer, routes []RouteInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(routes)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "METHOD\tPATH\tHANDLER")
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Method, r.Path, r.Handler)
		}
		fmt.Fprintf(tw, "\n%d routes\n", len(routes))
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
