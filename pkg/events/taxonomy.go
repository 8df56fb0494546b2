package events

import "sort"

// Category groups event types by governance concern.
type Category string

// Category constants.
const (
	CategoryAsset          Category = "asset"
	CategoryScan           Category = "scan"
	CategoryClassification Category = "classification"
	CategoryCompliance     Category = "compliance"
	CategoryEnforcement    Category = "enforcement"
	CategoryLifecycle      Category = "lifecycle"
	CategoryPolicy         Category = "policy"
	CategoryAudit          Category = "audit"
)

// Valid reports whether c is one of the eight defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAsset, CategoryScan, CategoryClassification, CategoryCompliance,
		CategoryEnforcement, CategoryLifecycle, CategoryPolicy, CategoryAudit:
		return true
	}
	return false
}

// Event type constants. The set is closed: the validator rejects any type
// not listed here, and each type maps to exactly one category.
const (
	TypeAssetRegistered = "aigrc.asset.registered"
	TypeAssetUpdated    = "aigrc.asset.updated"
	TypeAssetDeleted    = "aigrc.asset.deleted"

	TypeScanStarted   = "aigrc.scan.started"
	TypeScanCompleted = "aigrc.scan.completed"
	TypeScanFailed    = "aigrc.scan.failed"
	TypeScanFinding   = "aigrc.scan.finding"

	TypeClassificationAssigned   = "aigrc.classification.assigned"
	TypeClassificationChanged    = "aigrc.classification.changed"
	TypeClassificationConfirmed  = "aigrc.classification.confirmed"
	TypeClassificationOverridden = "aigrc.classification.overridden"

	TypeComplianceCheckPassed     = "aigrc.compliance.check.passed"
	TypeComplianceCheckFailed     = "aigrc.compliance.check.failed"
	TypeComplianceGatePassed      = "aigrc.compliance.gate.passed"
	TypeComplianceGateFailed      = "aigrc.compliance.gate.failed"
	TypeComplianceReportGenerated = "aigrc.compliance.report.generated"

	TypeEnforcementBlocked    = "aigrc.enforcement.blocked"
	TypeEnforcementAllowed    = "aigrc.enforcement.allowed"
	TypeEnforcementFlagged    = "aigrc.enforcement.flagged"
	TypeEnforcementKillswitch = "aigrc.enforcement.killswitch"

	TypeLifecycleDeployed = "aigrc.lifecycle.deployed"
	TypeLifecyclePromoted = "aigrc.lifecycle.promoted"
	TypeLifecycleRetired  = "aigrc.lifecycle.retired"
	TypeLifecycleRollback = "aigrc.lifecycle.rollback"

	TypePolicyApplied          = "aigrc.policy.applied"
	TypePolicyUpdated          = "aigrc.policy.updated"
	TypePolicyViolation        = "aigrc.policy.violation"
	TypePolicyExceptionGranted = "aigrc.policy.exception.granted"

	TypeAuditAccess       = "aigrc.audit.access"
	TypeAuditExport       = "aigrc.audit.export"
	TypeAuditVerification = "aigrc.audit.verification"
)

// typeCategory is the single source of truth for type membership.
var typeCategory = map[string]Category{
	TypeAssetRegistered: CategoryAsset,
	TypeAssetUpdated:    CategoryAsset,
	TypeAssetDeleted:    CategoryAsset,

	TypeScanStarted:   CategoryScan,
	TypeScanCompleted: CategoryScan,
	TypeScanFailed:    CategoryScan,
	TypeScanFinding:   CategoryScan,

	TypeClassificationAssigned:   CategoryClassification,
	TypeClassificationChanged:    CategoryClassification,
	TypeClassificationConfirmed:  CategoryClassification,
	TypeClassificationOverridden: CategoryClassification,

	TypeComplianceCheckPassed:     CategoryCompliance,
	TypeComplianceCheckFailed:     CategoryCompliance,
	TypeComplianceGatePassed:      CategoryCompliance,
	TypeComplianceGateFailed:      CategoryCompliance,
	TypeComplianceReportGenerated: CategoryCompliance,

	TypeEnforcementBlocked:    CategoryEnforcement,
	TypeEnforcementAllowed:    CategoryEnforcement,
	TypeEnforcementFlagged:    CategoryEnforcement,
	TypeEnforcementKillswitch: CategoryEnforcement,

	TypeLifecycleDeployed: CategoryLifecycle,
	TypeLifecyclePromoted: CategoryLifecycle,
	TypeLifecycleRetired:  CategoryLifecycle,
	TypeLifecycleRollback: CategoryLifecycle,

	TypePolicyApplied:          CategoryPolicy,
	TypePolicyUpdated:          CategoryPolicy,
	TypePolicyViolation:        CategoryPolicy,
	TypePolicyExceptionGranted: CategoryPolicy,

	TypeAuditAccess:       CategoryAudit,
	TypeAuditExport:       CategoryAudit,
	TypeAuditVerification: CategoryAudit,
}

// typeCriticality holds the default criticality for types that escalate
// above normal. Kill switches and hard failures are critical; findings,
// overrides and exports are high.
var typeCriticality = map[string]Criticality{
	TypeEnforcementKillswitch: CriticalityCritical,
	TypeEnforcementBlocked:    CriticalityCritical,
	TypeComplianceGateFailed:  CriticalityCritical,
	TypePolicyViolation:       CriticalityCritical,

	TypeAssetDeleted:             CriticalityHigh,
	TypeScanFinding:              CriticalityHigh,
	TypeClassificationOverridden: CriticalityHigh,
	TypeComplianceCheckFailed:    CriticalityHigh,
	TypeEnforcementFlagged:       CriticalityHigh,
	TypeLifecycleRollback:        CriticalityHigh,
	TypePolicyExceptionGranted:   CriticalityHigh,
	TypeAuditExport:              CriticalityHigh,
}

// KnownType reports whether eventType is a member of the closed taxonomy.
func KnownType(eventType string) bool {
	_, ok := typeCategory[eventType]
	return ok
}

// CategoryOf returns the category an event type belongs to.
func CategoryOf(eventType string) (Category, bool) {
	c, ok := typeCategory[eventType]
	return c, ok
}

// DefaultCriticality returns the default criticality for an event type.
// Unknown types default to normal; callers gate on KnownType first.
func DefaultCriticality(eventType string) Criticality {
	if c, ok := typeCriticality[eventType]; ok {
		return c
	}
	return CriticalityNormal
}

// Types returns every known event type in sorted order.
func Types() []string {
	out := make([]string, 0, len(typeCategory))
	for t := range typeCategory {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TypesIn returns every known event type in the given category, sorted.
func TypesIn(category Category) []string {
	var out []string
	for t, c := range typeCategory {
		if c == category {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
