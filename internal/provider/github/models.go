package github

import "time"

// API response structures for the subset of the GitHub REST API the adapter
// consumes.

type apiUser struct {
	Login string `json:"login"`
}

type apiLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type apiMilestone struct {
	Title string `json:"title"`
}

type apiIssue struct {
	Number    int64         `json:"number"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	State     string        `json:"state"`
	Labels    []apiLabel    `json:"labels"`
	User      apiUser       `json:"user"`
	Assignees []apiUser     `json:"assignees"`
	Milestone *apiMilestone `json:"milestone"`
	Locked    bool          `json:"locked"`
	HTMLURL   string        `json:"html_url"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type apiComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      apiUser   `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type apiRepository struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	HTMLURL  string  `json:"html_url"`
	Private  bool    `json:"private"`
	Owner    apiUser `json:"owner"`
}

type apiRateLimit struct {
	Resources struct {
		Core struct {
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// issueMetadata is the provider-only detail preserved in the opaque metadata
// blob so pushes can round-trip fields the internal model does not carry.
type issueMetadata struct {
	Number    int64     `json:"number"`
	HTMLURL   string    `json:"html_url"`
	Author    string    `json:"author"`
	Assignees []string  `json:"assignees,omitempty"`
	Milestone string    `json:"milestone,omitempty"`
	Locked    bool      `json:"locked,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type commentMetadata struct {
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
