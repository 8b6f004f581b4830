package schema

// ChildCareTable is the default target table.
const ChildCareTable = "child_care_info"

var childCareFields = []Field{
	{Name: "accepts_financial_aid", Type: FieldBool, Nullable: true},
	{Name: "ages_served", Type: FieldString, Nullable: true},
	{Name: "capacity", Type: FieldInteger, Nullable: true},
	{Name: "certificate_expiration_date", Type: FieldDate, Nullable: true},
	{Name: "city", Type: FieldString, Required: true, Nullable: true},
	{Name: "address1", Type: FieldString, Required: true, Nullable: true},
	{Name: "address2", Type: FieldString, Nullable: true},
	{Name: "company", Type: FieldString, Required: true},
	{Name: "phone", Type: FieldString, Required: true, Nullable: true},
	{Name: "phone2", Type: FieldString, Nullable: true},
	{Name: "county", Type: FieldString, Nullable: true},
	{Name: "curriculum_type", Type: FieldString, Nullable: true},
	{Name: "email", Type: FieldString, Nullable: true},
	{Name: "first_name", Type: FieldString, Nullable: true},
	{Name: "language", Type: FieldString, Nullable: true},
	{Name: "last_name", Type: FieldString, Nullable: true},
	{Name: "license_status", Type: FieldString, Nullable: true},
	{Name: "license_issued", Type: FieldDate, Nullable: true},
	{Name: "license_number", Type: FieldInteger, Required: true},
	{Name: "license_renewed", Type: FieldDate, Nullable: true},
	{Name: "license_type", Type: FieldString, Nullable: true},
	{Name: "licensee_name", Type: FieldString, Nullable: true},
	{Name: "max_age", Type: FieldInteger, Nullable: true},
	{Name: "min_age", Type: FieldInteger, Nullable: true},
	{Name: "operator", Type: FieldString, Nullable: true},
	{Name: "provider_id", Type: FieldString, Nullable: true},
	{Name: "schedule", Type: FieldString, Nullable: true},
	{Name: "state", Type: FieldString, Required: true, Nullable: true},
	{Name: "title", Type: FieldString, Nullable: true},
	{Name: "website_address", Type: FieldString, Nullable: true},
	{Name: "zip", Type: FieldString, Required: true, Nullable: true},
	{Name: "facility_type", Type: FieldString, Nullable: true},
	{Name: "source", Type: FieldString, Required: true},
}

// ChildCare returns the canonical child care provider schema.
func ChildCare() *Schema {
	return MustNew(ChildCareTable, childCareFields)
}
