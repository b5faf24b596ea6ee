package lang

// Extraction patterns per language. Each pattern set is pure data: a
// tree-sitter query for symbol declarations, one for imports, one for
// call sites, and one for heritage clauses (extends/implements). Capture
// names are shared across languages so the extractor stays generic:
//
//	@name        the identifier of the declared symbol
//	@function …  the declaration node, capture name selects the kind
//	@source      the imported module path
//	@alias       local alias introduced by the import, if any
//	@symbol      an individual imported symbol name
//	@callee      the called function/method name
//	@receiver    receiver/object of a member call
//	@base        a superclass name
//	@iface       an implemented interface/trait name
//	@owner       the type a heritage clause belongs to

const goSymbols = `
	(function_declaration name: (identifier) @name) @function
	(method_declaration name: (field_identifier) @name) @method
	(type_declaration (type_spec name: (type_identifier) @name type: (struct_type))) @struct
	(type_declaration (type_spec name: (type_identifier) @name type: (interface_type))) @interface
	(const_declaration (const_spec name: (identifier) @name)) @constant
	(source_file (var_declaration (var_spec name: (identifier) @name)) @variable)
`

const goImports = `
	(import_spec name: (package_identifier) @alias path: (interpreted_string_literal) @source)
	(import_spec path: (interpreted_string_literal) @source)
`

const goCalls = `
	(call_expression function: (identifier) @callee)
	(call_expression function: (selector_expression operand: (identifier) @receiver field: (field_identifier) @callee))
`

const goHeritage = ``

const pythonSymbols = `
	(function_definition name: (identifier) @name) @function
	(class_definition name: (identifier) @name) @class
	(decorated_definition definition: (function_definition name: (identifier) @name)) @function
`

const pythonImports = `
	(import_statement name: (dotted_name) @source)
	(import_statement name: (aliased_import name: (dotted_name) @source alias: (identifier) @alias))
	(import_from_statement module_name: (dotted_name) @source name: (dotted_name) @symbol)
	(import_from_statement module_name: (dotted_name) @source name: (aliased_import name: (dotted_name) @symbol alias: (identifier) @alias))
`

const pythonCalls = `
	(call function: (identifier) @callee)
	(call function: (attribute object: (identifier) @receiver attribute: (identifier) @callee))
`

const pythonHeritage = `
	(class_definition name: (identifier) @owner superclasses: (argument_list (identifier) @base))
`

const typescriptSymbols = `
	(function_declaration name: (identifier) @name) @function
	(class_declaration name: (type_identifier) @name) @class
	(method_definition name: (property_identifier) @name) @method
	(interface_declaration name: (type_identifier) @name) @interface
	(enum_declaration name: (identifier) @name) @enum
	(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @function
`

const typescriptImports = `
	(import_statement (import_clause (named_imports (import_specifier name: (identifier) @symbol))) source: (string) @source)
	(import_statement (import_clause (namespace_import (identifier) @alias)) source: (string) @source)
	(import_statement (import_clause (identifier) @alias) source: (string) @source)
	(import_statement source: (string) @source)
`

const typescriptCalls = `
	(call_expression function: (identifier) @callee)
	(call_expression function: (member_expression object: (identifier) @receiver property: (property_identifier) @callee))
`

const typescriptHeritage = `
	(class_declaration name: (type_identifier) @owner (class_heritage (extends_clause value: (identifier) @base)))
	(class_declaration name: (type_identifier) @owner (class_heritage (implements_clause (type_identifier) @iface)))
	(interface_declaration name: (type_identifier) @owner (extends_type_clause type: (type_identifier) @base))
`

const javascriptSymbols = `
	(function_declaration name: (identifier) @name) @function
	(class_declaration name: (identifier) @name) @class
	(method_definition name: (property_identifier) @name) @method
	(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @function
`

const javascriptImports = `
	(import_statement (import_clause (named_imports (import_specifier name: (identifier) @symbol))) source: (string) @source)
	(import_statement (import_clause (namespace_import (identifier) @alias)) source: (string) @source)
	(import_statement (import_clause (identifier) @alias) source: (string) @source)
	(import_statement source: (string) @source)
`

const javascriptCalls = `
	(call_expression function: (identifier) @callee)
	(call_expression function: (member_expression object: (identifier) @receiver property: (property_identifier) @callee))
`

const javascriptHeritage = `
	(class_declaration name: (identifier) @owner (class_heritage (identifier) @base))
`

const rustSymbols = `
	(function_item name: (identifier) @name) @function
	(struct_item name: (type_identifier) @name) @struct
	(enum_item name: (type_identifier) @name) @enum
	(trait_item name: (type_identifier) @name) @trait
	(mod_item name: (identifier) @name) @module
	(const_item name: (identifier) @name) @constant
	(macro_definition name: (identifier) @name) @macro
`

const rustImports = `
	(use_declaration argument: (scoped_identifier) @source)
	(use_declaration argument: (identifier) @source)
	(use_declaration argument: (use_as_clause path: (scoped_identifier) @source alias: (identifier) @alias))
`

const rustCalls = `
	(call_expression function: (identifier) @callee)
	(call_expression function: (scoped_identifier name: (identifier) @callee))
	(call_expression function: (field_expression field: (field_identifier) @callee))
`

const rustHeritage = `
	(impl_item trait: (type_identifier) @iface type: (type_identifier) @owner)
`
