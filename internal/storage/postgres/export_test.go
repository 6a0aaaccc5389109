package postgres

// SessionParams exposes sessionParams to tests.
var SessionParams = sessionParams
