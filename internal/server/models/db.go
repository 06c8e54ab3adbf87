// Package models defines the records persisted by gophdrive and the views
// returned by the hierarchy services.
package models
