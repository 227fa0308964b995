package models

import "strings"

// FieldType is the datatype of a target field
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeDecimal FieldType = "decimal"
	FieldTypeInteger FieldType = "integer"
	FieldTypeUUID    FieldType = "uuid"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeList    FieldType = "list"
)

// TargetField is one field of the fixed destination schema
type TargetField struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Type        FieldType `json:"type"`
	Example     string    `json:"example"`
	Synonyms    []string  `json:"synonyms,omitempty"`
	EnumValues  []string  `json:"enumValues,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	MaxLength   int       `json:"maxLength,omitempty"`
}

// TargetSchema is the destination record definition
type TargetSchema struct {
	Entity  string        `json:"entity"`
	Version string        `json:"version"`
	Fields  []TargetField `json:"fields"`
}

// Field looks up a target field by case-insensitive name
func (s TargetSchema) Field(name string) (TargetField, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return TargetField{}, false
}

// RequiredFields returns the names of all required target fields
func (s TargetSchema) RequiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"`
	Example     string `json:"example"`
}

// TemplateColumns returns the template columns for the schema
func (s TargetSchema) TemplateColumns() []ImportTemplateColumn {
	columns := make([]ImportTemplateColumn, 0, len(s.Fields))
	for _, f := range s.Fields {
		columns = append(columns, ImportTemplateColumn{
			Name:        f.Name,
			Description: f.Description,
			Required:    f.Required,
			Type:        string(f.Type),
			Example:     f.Example,
		})
	}
	return columns
}

func floatPtr(v float64) *float64 { return &v }

// Currency codes accepted by the catalog
var CurrencyCodes = []string{"USD", "EUR", "GBP", "INR", "AUD", "CAD", "SGD", "JPY"}

// Product statuses accepted on import
var ImportProductStatuses = []string{"DRAFT", "PENDING", "ACTIVE"}

// ProductTargetSchema returns the product schema records are mapped onto
func ProductTargetSchema() TargetSchema {
	return TargetSchema{
		Entity:  "products",
		Version: "2.0",
		Fields: []TargetField{
			{Name: "name", Description: "Product name", Required: true, Type: FieldTypeString, Example: "Blue Cotton T-Shirt",
				Synonyms: []string{"title", "product name", "product title", "item name"}, MaxLength: 500},
			{Name: "sku", Description: "Unique product SKU", Required: true, Type: FieldTypeString, Example: "TSH-BLU-001",
				Synonyms: []string{"stock keeping unit", "item code", "product code", "article number"}, MaxLength: 100},
			{Name: "price", Description: "Product price", Required: true, Type: FieldTypeDecimal, Example: "29.99",
				Synonyms: []string{"unit price", "sale price", "selling price", "amount"}, Min: floatPtr(0)},
			{Name: "description", Description: "Product description", Type: FieldTypeString,
				Synonyms: []string{"desc", "details", "long description", "summary"}},
			{Name: "comparePrice", Description: "Original/compare price", Type: FieldTypeDecimal,
				Synonyms: []string{"compare at price", "msrp", "list price", "original price", "rrp"}, Min: floatPtr(0)},
			{Name: "costPrice", Description: "Cost price", Type: FieldTypeDecimal,
				Synonyms: []string{"cost", "unit cost", "purchase price", "wholesale price"}, Min: floatPtr(0)},
			{Name: "categoryId", Description: "Category UUID (use this OR categoryName)", Type: FieldTypeUUID,
				Synonyms: []string{"category uuid"}},
			{Name: "categoryName", Description: "Category name", Type: FieldTypeString, Example: "Electronics",
				Synonyms: []string{"category", "product category", "department"}, MaxLength: 255},
			{Name: "vendorId", Description: "Vendor UUID (use this OR vendorName)", Type: FieldTypeUUID,
				Synonyms: []string{"vendor uuid", "seller id"}},
			{Name: "vendorName", Description: "Vendor name", Type: FieldTypeString, Example: "Demo Store",
				Synonyms: []string{"vendor", "seller", "merchant"}, MaxLength: 255},
			{Name: "warehouseName", Description: "Warehouse name", Type: FieldTypeString, Example: "Main Warehouse",
				Synonyms: []string{"warehouse", "location", "stock location"}, MaxLength: 255},
			{Name: "supplierName", Description: "Supplier name", Type: FieldTypeString, Example: "Acme Corp",
				Synonyms: []string{"supplier", "manufacturer", "distributor"}, MaxLength: 255},
			{Name: "brand", Description: "Brand name", Type: FieldTypeString,
				Synonyms: []string{"brand name", "make", "label"}, MaxLength: 255},
			{Name: "quantity", Description: "Initial stock quantity", Type: FieldTypeInteger,
				Synonyms: []string{"qty", "stock", "inventory", "stock quantity", "on hand"}, Min: floatPtr(0)},
			{Name: "minOrderQty", Description: "Minimum order quantity", Type: FieldTypeInteger,
				Synonyms: []string{"moq", "min order", "minimum quantity"}, Min: floatPtr(1)},
			{Name: "maxOrderQty", Description: "Maximum order quantity", Type: FieldTypeInteger,
				Synonyms: []string{"max order", "maximum quantity"}, Min: floatPtr(1)},
			{Name: "lowStockThreshold", Description: "Low stock alert threshold", Type: FieldTypeInteger,
				Synonyms: []string{"reorder point", "reorder level", "low stock"}, Min: floatPtr(0)},
			{Name: "weight", Description: "Product weight (kg)", Type: FieldTypeDecimal,
				Synonyms: []string{"weight kg", "mass", "shipping weight"}, Min: floatPtr(0)},
			{Name: "tags", Description: "Comma-separated tags", Type: FieldTypeList,
				Synonyms: []string{"tag", "labels", "keywords list"}},
			{Name: "searchKeywords", Description: "Search keywords", Type: FieldTypeString,
				Synonyms: []string{"keywords", "search terms", "seo keywords"}},
			{Name: "currencyCode", Description: "ISO currency code", Type: FieldTypeEnum, Example: "USD",
				Synonyms: []string{"currency", "currency iso"}, EnumValues: CurrencyCodes},
			{Name: "status", Description: "Initial product status", Type: FieldTypeEnum, Example: "DRAFT",
				Synonyms: []string{"state", "product status"}, EnumValues: ImportProductStatuses},
		},
	}
}
