package automation

import "github.com/ibeckermayer/instaflow/internal/browser"

// Instagram DOM selectors
// These are isolated here because Instagram changes its DOM frequently
// Update these when the sequence breaks

const (
	HomeURL = "https://www.instagram.com/"

	// LoginQueryURL prefixes the GraphQL endpoint the web app POSTs to once
	// a session is established.
	LoginQueryURL = "https://www.instagram.com/graphql/query"
)

var (
	// Conditional prompts
	CookieConsentButton = browser.Role("button", "Allow all cookies")
	SaveInfoButton      = browser.Role("button", "Save info")

	// Login form
	UsernameInput = browser.CSS(`input[name="username"]`)
	PasswordInput = browser.CSS(`input[name="password"]`)
	LoginSubmit   = browser.CSS(`button[type="submit"]`)

	// Post-login landmark
	HomeLandmark = browser.CSS(`[aria-label="Home"]`)

	// Search
	SearchLink    = browser.Role("link", "Search Search")
	SearchInput   = browser.Role("textbox", "Search input")
	SearchResults = browser.CSS(`a[role="link"]`)

	// Posts
	PostLinks     = browser.CSS(`a[href*="/p/"]`)
	PostDialog    = browser.CSS(`div[role="dialog"]`)
	CommentField  = browser.CSS(`textarea[aria-label="Add a comment…"]`)
	CommentSubmit = browser.Role("button", "Post")

	// Feed loading spinner shown while more content is fetched
	LoadingIndicator = browser.CSS(`svg[aria-label="Loading..."]`)
)
