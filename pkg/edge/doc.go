// Package edge reloads the reverse proxy in front of the service. The
// configuration is always validated first (nginx -t); an invalid config is
// reverted and never reloaded, so a bad edit cannot take the site down.
//
// Reload remembers the site config it replaced. Revert puts it back and
// reloads without staging the shipped config again; it is the rollback
// path. Forget pairs the installed config with a fresh backup.
package edge
