package model

// WorkspaceType identifies which application a log-analytics workspace
// belongs to. Each type has its own query strategy.
type WorkspaceType string

const (
	WorkspaceTypeALM   WorkspaceType = "ALM"    // ALM chat
	WorkspaceTypeBrain WorkspaceType = "BRAIN"  // Brain chat
	WorkspaceTypeDoc   WorkspaceType = "DOC"    // Document search
	WorkspaceTypeMABot WorkspaceType = "MA_BOT" // Market Analysis bot
	WorkspaceTypeMAWeb WorkspaceType = "MA_WEB" // Market Analysis web
	WorkspaceTypeCA    WorkspaceType = "CA"     // Company Analysis
)

// AllWorkspaceTypes lists every known workspace type in report order.
func AllWorkspaceTypes() []WorkspaceType {
	return []WorkspaceType{
		WorkspaceTypeALM,
		WorkspaceTypeBrain,
		WorkspaceTypeDoc,
		WorkspaceTypeMABot,
		WorkspaceTypeMAWeb,
		WorkspaceTypeCA,
	}
}

// Workspace is one named source of log data. Immutable after load.
type Workspace struct {
	ID            string        `json:"id"`
	Type          WorkspaceType `json:"type"`
	Name          string        `json:"name"`
	Endpoint      string        `json:"endpoint,omitempty"`
	CredentialRef string        `json:"credential_ref,omitempty"`
}
