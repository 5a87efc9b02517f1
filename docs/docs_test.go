package docs

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestDocCoversRoutes(t *testing.T) {
	raw, err := swag.ReadDoc()
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Schemes []string                  `json:"schemes"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("doc is not JSON: %v", err)
	}
	if doc.Info.Title != "tagwatch API" || len(doc.Schemes) != 2 {
		t.Fatalf("info = %+v, schemes = %v", doc.Info, doc.Schemes)
	}

	routes := map[string]string{
		"/health":                                       "get",
		"/api/v1/vapid_public_key":                      "get",
		"/api/v1/users/{userID}/geofences/{geofenceID}": "put",
		"/api/v1/users/{userID}/devices/{deviceID}":     "delete",
		"/api/v1/users/{userID}/subscribe":              "post",
		"/api/v1/users/{userID}/notifications/history":  "delete",
	}
	for path, method := range routes {
		if _, ok := doc.Paths[path][method]; !ok {
			t.Errorf("%s %s missing", method, path)
		}
	}
}
