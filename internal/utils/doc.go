// Package utils provides a collection of helper functions shared across the client,
// such as path expansion, content type validation, and User-Agent management.
// It is designed to simplify repetitive operations and ensure consistency across the application.
package utils
