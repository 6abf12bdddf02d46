// Package permission resolves account roles into the permission names
// embedded in access tokens.
//
// A [Registry] declares the known permission names. A [RoleManager] binds
// roles to subsets of them. Both are frozen before use and read-only
// afterwards.
package permission
