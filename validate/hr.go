package validate

// HRValidator declares the payload schemas for the HR event taxonomy.
// Version numbers track payload shape, not business meaning.
func HRValidator() *Validator {
	v := NewValidator()

	v.RegisterSchema("EmployeeHired", 1, Schema{
		Required: []string{"employeeId"},
	})
	v.RegisterSchema("EmployeePromoted", 1, Schema{
		Required: []string{"employeeId", "previousPosition", "newPosition", "previousSalary", "newSalary"},
		Checks: []Check{
			FieldsDiffer("previousPosition", "newPosition"),
			NonNegative("previousSalary"),
			NonNegative("newSalary"),
		},
	})
	v.RegisterSchema("EmployeeTransferred", 1, Schema{
		Required: []string{"employeeId", "previousDepartment", "newDepartment"},
		Checks: []Check{
			FieldsDiffer("previousDepartment", "newDepartment"),
		},
	})
	v.RegisterSchema("EmployeeTerminated", 1, Schema{
		Required: []string{"employeeId", "previousStatus", "newStatus"},
		Checks:   []Check{FieldsDiffer("previousStatus", "newStatus")},
	})
	v.RegisterSchema("EmployeeWentOnLeave", 1, Schema{
		Required: []string{"employeeId", "previousStatus", "newStatus"},
		Checks:   []Check{FieldsDiffer("previousStatus", "newStatus")},
	})
	v.RegisterSchema("EmployeeReturnedFromLeave", 1, Schema{
		Required: []string{"employeeId", "previousStatus", "newStatus"},
		Checks:   []Check{FieldsDiffer("previousStatus", "newStatus")},
	})
	v.RegisterSchema("EmployeeRecordRemoved", 1, Schema{
		Required: []string{"employeeId"},
	})
	v.RegisterSchema("SalaryAdjusted", 1, Schema{
		Required: []string{"employeeId", "newSalary"},
		Checks: []Check{
			NonNegative("previousSalary"),
			NonNegative("newSalary"),
		},
	})
	v.RegisterSchema("DepartmentCreated", 1, Schema{
		Required: []string{"departmentId", "name"},
	})
	v.RegisterSchema("DepartmentRestructured", 1, Schema{
		Required: []string{"departmentId", "changes"},
	})
	v.RegisterSchema("DepartmentDissolved", 1, Schema{
		Required: []string{"departmentId"},
	})
	v.RegisterSchema("LeaveRequestSubmitted", 1, Schema{
		Required: []string{"requestId", "employeeId"},
	})
	v.RegisterSchema("LeaveRequestApproved", 1, Schema{
		Required: []string{"requestId", "previousStatus", "newStatus"},
		Checks:   []Check{FieldsDiffer("previousStatus", "newStatus")},
	})
	v.RegisterSchema("LeaveRequestRejected", 1, Schema{
		Required: []string{"requestId", "previousStatus", "newStatus"},
		Checks:   []Check{FieldsDiffer("previousStatus", "newStatus")},
	})

	return v
}
