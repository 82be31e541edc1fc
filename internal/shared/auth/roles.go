// Package auth provides authentication and authorization for the platform.
package auth

// Role represents a user role in the system.
type Role string

// Platform roles - global scope
const (
	RoleAdmin    Role = "admin"           // Full platform access
	RoleOperator Role = "operator"        // Operations, monitoring
	RoleAuditor  Role = "security_auditor" // Read-only audit access
)

// Claims roles
const (
	RoleClaimsReviewer   Role = "claims_reviewer"   // Record human review decisions
	RoleClaimsSupervisor Role = "claims_supervisor" // Review plus rule management
	RoleProvider         Role = "provider"          // Submit and resubmit own claims
)

// Permission represents a specific action on a resource.
type Permission string

// Claim permissions
const (
	PermClaimRead     Permission = "claim.read"
	PermClaimIngest   Permission = "claim.ingest"
	PermClaimUpload   Permission = "claim.upload"
	PermClaimReview   Permission = "claim.review"
	PermClaimResubmit Permission = "claim.resubmit"
)

// Rules permissions
const (
	PermRulesRead   Permission = "rules.read"
	PermRulesManage Permission = "rules.manage"
)

// Audit permissions
const (
	PermAuditRead   Permission = "audit.read"
	PermAuditVerify Permission = "audit.verify"
)

// RolePermissions maps roles to their default permissions.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermClaimRead, PermClaimIngest, PermClaimUpload, PermClaimReview, PermClaimResubmit,
		PermRulesRead, PermRulesManage,
		PermAuditRead, PermAuditVerify,
	},
	RoleOperator: {
		PermClaimRead, PermClaimIngest, PermClaimUpload,
		PermRulesRead,
	},
	RoleClaimsSupervisor: {
		PermClaimRead, PermClaimReview,
		PermRulesRead, PermRulesManage,
		PermAuditRead,
	},
	RoleClaimsReviewer: {
		PermClaimRead, PermClaimReview,
		PermRulesRead,
	},
	RoleProvider: {
		PermClaimRead, PermClaimIngest, PermClaimUpload, PermClaimResubmit,
	},
	RoleAuditor: {
		PermAuditRead, PermAuditVerify,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// Can checks if the user holds any role granting the permission.
func (u *User) Can(perm Permission) bool {
	if u.IsAdmin() {
		return true
	}
	for _, role := range u.Roles {
		if HasPermission(Role(role), perm) {
			return true
		}
	}
	return false
}
