package auth

import "slices"

const (
	RolePayrollOfficer  = "payroll_officer"
	RolePayrollManager  = "payroll_manager"
	RoleFinanceDirector = "finance_director"
	RolePayrollAdmin    = "payroll_admin"
	RoleAuditor         = "auditor"
)

const (
	PermPayrollRead    = "payroll.read"
	PermPayrollWrite   = "payroll.write"
	PermPayrollRun     = "payroll.run"
	PermPayrollApprove = "payroll.approve"
	PermPayrollLock    = "payroll.lock"
)

var DefaultPermissions = []string{
	PermPayrollRead,
	PermPayrollWrite,
	PermPayrollRun,
	PermPayrollApprove,
	PermPayrollLock,
}

var RolePermissions = map[string][]string{
	RolePayrollOfficer: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollApprove,
	},
	RolePayrollManager: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollApprove,
	},
	RoleFinanceDirector: {
		PermPayrollRead,
		PermPayrollApprove,
		PermPayrollLock,
	},
	RolePayrollAdmin: {
		PermPayrollRead,
		PermPayrollWrite,
		PermPayrollRun,
		PermPayrollLock,
	},
	RoleAuditor: {
		PermPayrollRead,
	},
}

// StaticPermissions resolves permissions from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(role, permission string) bool {
	return slices.Contains(RolePermissions[role], permission)
}
