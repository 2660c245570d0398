package plugin

// ManifestSchema is the JSON Schema for plugin manifest validation. Required
// identity keys are not listed here; their absence is handled by build mode.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "description": {
      "type": "object",
      "properties": {
        "plugin_name": { "type": "string" },
        "domain_name": { "type": "string" },
        "plugin_prefix": {
          "type": "string",
          "pattern": "^[A-Za-z0-9_-]*$",
          "description": "Namespace used in qualified command names"
        },
        "plugin_description": { "type": "string" },
        "plugin_type": { "enum": ["standard", "single-file", ""] }
      }
    },
    "versioning": {
      "type": "object",
      "properties": {
        "plugin_version": { "type": "string" },
        "requires": {
          "type": "string",
          "description": "Semver constraint on the core version (e.g. >=1.2.0)"
        },
        "update_repo": { "type": "string" },
        "beta_update_repo": { "type": "string" }
      }
    },
    "user": {
      "type": "object",
      "properties": {
        "enabled": { "type": "boolean" },
        "auto_update": { "type": "boolean" },
        "beta_testing": { "type": "boolean" }
      }
    },
    "config_template": { "type": "object" },
    "functions": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "function_name": {
            "type": "string",
            "pattern": "^[^\\s.]*$"
          },
          "help_text": { "type": "string" },
          "allowed_args_length": { "type": "string" },
          "args_description": {
            "type": "array",
            "items": { "type": "string" }
          },
          "allowed_modifiers": {
            "type": "object",
            "additionalProperties": { "type": "string" }
          },
          "permission": { "type": "string" }
        }
      }
    }
  }
}`
