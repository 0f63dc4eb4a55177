package detect

import (
	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// Event taxonomy for the HR stream.
const (
	EmployeeHired             cdc.EventType = "EmployeeHired"
	EmployeePromoted          cdc.EventType = "EmployeePromoted"
	EmployeeTransferred       cdc.EventType = "EmployeeTransferred"
	EmployeeTerminated        cdc.EventType = "EmployeeTerminated"
	EmployeeWentOnLeave       cdc.EventType = "EmployeeWentOnLeave"
	EmployeeReturnedFromLeave cdc.EventType = "EmployeeReturnedFromLeave"
	EmployeeRecordRemoved     cdc.EventType = "EmployeeRecordRemoved"
	SalaryAdjusted            cdc.EventType = "SalaryAdjusted"
	DepartmentCreated         cdc.EventType = "DepartmentCreated"
	DepartmentRestructured    cdc.EventType = "DepartmentRestructured"
	DepartmentDissolved       cdc.EventType = "DepartmentDissolved"
	LeaveRequestSubmitted     cdc.EventType = "LeaveRequestSubmitted"
	LeaveRequestApproved      cdc.EventType = "LeaveRequestApproved"
	LeaveRequestRejected      cdc.EventType = "LeaveRequestRejected"
)

const (
	CategoryEmployee   cdc.EventCategory = "employee"
	CategoryDepartment cdc.EventCategory = "department"
	CategoryLeave      cdc.EventCategory = "leave"
)

// RegisterHRRules wires the built-in rule set for the HR schema into the
// registry. The attendance_records table intentionally gets no rules at
// all: its rows are operational log entries, and neither inserts nor
// deletes there are business facts.
func RegisterHRRules(registry *Registry) {
	registry.Register("employees",
		&CreateRule{
			RuleName:      "employee-hired",
			EventType:     EmployeeHired,
			Category:      CategoryEmployee,
			AggregateType: "employee",
			KeyColumn:     "id",
			KeyField:      "employeeId",
			Version:       1,
			Copy: map[string]string{
				"position":   "position_id",
				"department": "department_id",
				"status":     "status",
			},
		},
		&PromotionRule{
			RuleName:           "employee-promoted",
			EventType:          EmployeePromoted,
			Category:           CategoryEmployee,
			AggregateType:      "employee",
			KeyColumn:          "id",
			KeyField:           "employeeId",
			PositionColumn:     "position_id",
			CompensationColumn: "salary",
			Version:            1,
		},
		&TransferRule{
			RuleName:       "employee-transferred",
			EventType:      EmployeeTransferred,
			Category:       CategoryEmployee,
			AggregateType:  "employee",
			KeyColumn:      "id",
			KeyField:       "employeeId",
			GroupColumn:    "department_id",
			PositionColumn: "position_id",
			Version:        1,
		},
		&StatusTransitionRule{
			RuleName:      "employee-status",
			Category:      CategoryEmployee,
			AggregateType: "employee",
			KeyColumn:     "id",
			KeyField:      "employeeId",
			StatusColumn:  "status",
			Version:       1,
			Transitions: map[Transition]cdc.EventType{
				{From: "active", To: "terminated"}:   EmployeeTerminated,
				{From: "on_leave", To: "terminated"}: EmployeeTerminated,
				{From: "active", To: "on_leave"}:     EmployeeWentOnLeave,
				{From: "on_leave", To: "active"}:     EmployeeReturnedFromLeave,
			},
		},
		&DeletionRule{
			RuleName:      "employee-removed",
			EventType:     EmployeeRecordRemoved,
			Category:      CategoryEmployee,
			AggregateType: "employee",
			KeyColumn:     "id",
			KeyField:      "employeeId",
			Version:       1,
		},
	)

	registry.Register("salary_changes",
		&CreateRule{
			RuleName:      "salary-adjusted",
			EventType:     SalaryAdjusted,
			Category:      CategoryEmployee,
			AggregateType: "employee",
			KeyColumn:     "employee_id",
			KeyField:      "employeeId",
			Version:       1,
			Copy: map[string]string{
				"previousSalary": "old_salary",
				"newSalary":      "new_salary",
				"reason":         "reason",
				"effectiveDate":  "effective_date",
			},
		},
	)

	registry.Register("departments",
		&CreateRule{
			RuleName:      "department-created",
			EventType:     DepartmentCreated,
			Category:      CategoryDepartment,
			AggregateType: "department",
			KeyColumn:     "id",
			KeyField:      "departmentId",
			Version:       1,
			Copy: map[string]string{
				"name":    "name",
				"manager": "manager_id",
			},
		},
		&AttributeChangeRule{
			RuleName:      "department-restructured",
			EventType:     DepartmentRestructured,
			Category:      CategoryDepartment,
			AggregateType: "department",
			KeyColumn:     "id",
			KeyField:      "departmentId",
			Columns:       []string{"name", "manager_id"},
			Version:       1,
		},
		&DeletionRule{
			RuleName:      "department-dissolved",
			EventType:     DepartmentDissolved,
			Category:      CategoryDepartment,
			AggregateType: "department",
			KeyColumn:     "id",
			KeyField:      "departmentId",
			Version:       1,
		},
	)

	registry.Register("leave_requests",
		&CreateRule{
			RuleName:      "leave-request-submitted",
			EventType:     LeaveRequestSubmitted,
			Category:      CategoryLeave,
			AggregateType: "leave-request",
			KeyColumn:     "id",
			KeyField:      "requestId",
			Version:       1,
			Copy: map[string]string{
				"employeeId": "employee_id",
				"leaveType":  "leave_type",
				"startDate":  "start_date",
				"endDate":    "end_date",
			},
		},
		&StatusTransitionRule{
			RuleName:      "leave-request-status",
			Category:      CategoryLeave,
			AggregateType: "leave-request",
			KeyColumn:     "id",
			KeyField:      "requestId",
			StatusColumn:  "status",
			Version:       1,
			Transitions: map[Transition]cdc.EventType{
				{From: "pending", To: "approved"}: LeaveRequestApproved,
				{From: "pending", To: "rejected"}: LeaveRequestRejected,
			},
		},
	)
}
