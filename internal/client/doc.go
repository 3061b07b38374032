// Package client is a Go client for the codesync HTTP API.
//
// It is used by the `codesync run` and `codesync languages` commands and
// can be embedded by other tools:
//
//	c := client.New(client.Options{BaseURL: "http://localhost:5000"})
//	result, err := c.Execute(ctx, client.ExecuteRequest{
//	    Language: "python",
//	    Source:   "print(42)",
//	})
//
// Server errors are returned as *APIError. Their kind is reachable with
// errors.Is, e.g. errors.Is(err, apperr.ErrUnsupportedLanguage).
package client
