package lifecycle

import (
	"encoding/json"

	"github.com/platinummonkey/ledmatrix/pkg/installer"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
)

// InstallResult reports an install. Success means the plugin files are in
// place and validated; a dependency failure does not undo it.
type InstallResult struct {
	PluginID              string             `json:"plugin_id"`
	Success               bool               `json:"success"`
	Version               string             `json:"version,omitempty"`
	Path                  string             `json:"path,omitempty"`
	Strategy              installer.Strategy `json:"strategy,omitempty"`
	DependenciesInstalled bool               `json:"dependencies_installed"`
	DependencyError       string             `json:"dependency_error,omitempty"`
	Error                 error              `json:"-"`
}

// Outcome is the result of an update
type Outcome string

const (
	OutcomeUpToDate Outcome = "up-to-date"
	OutcomeUpdated  Outcome = "updated"
	OutcomeFailed   Outcome = "failed"
)

// UpdateResult reports an update
type UpdateResult struct {
	PluginID              string  `json:"plugin_id"`
	Outcome               Outcome `json:"outcome"`
	PreviousVersion       string  `json:"previous_version,omitempty"`
	Version               string  `json:"version,omitempty"`
	Method                string  `json:"method,omitempty"`
	DependenciesInstalled bool    `json:"dependencies_installed"`
	DependencyError       string  `json:"dependency_error,omitempty"`
	Error                 error   `json:"-"`
}

// errorBody is the JSON shape of a failed result's error
type errorBody struct {
	Kind    plugins.Kind `json:"kind"`
	Message string       `json:"message"`
}

func newErrorBody(err error) *errorBody {
	if err == nil {
		return nil
	}
	return &errorBody{Kind: plugins.KindOf(err), Message: err.Error()}
}

// MarshalJSON includes the error kind and message
func (r InstallResult) MarshalJSON() ([]byte, error) {
	type alias InstallResult
	return json.Marshal(struct {
		alias
		Error *errorBody `json:"error,omitempty"`
	}{alias(r), newErrorBody(r.Error)})
}

// MarshalJSON includes the error kind and message
func (r UpdateResult) MarshalJSON() ([]byte, error) {
	type alias UpdateResult
	return json.Marshal(struct {
		alias
		Error *errorBody `json:"error,omitempty"`
	}{alias(r), newErrorBody(r.Error)})
}
