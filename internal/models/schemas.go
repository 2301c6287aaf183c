package models

// PlanSchema returns the JSON Schema a backend must satisfy when breaking a
// requirement (or a failed task) into subtasks.
func PlanSchema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Task Breakdown",
  "description": "Ordered hierarchical list of small, testable subtasks",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title", "description"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[0-9]+(-[0-9]+)*$",
            "description": "Hierarchical id: 1, 2, 1-1, 1-1-2"
          },
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "test_command": {
            "type": "string",
            "description": "Shell command that exits 0 when the subtask is done"
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
}

// EditSetSchema returns the JSON Schema for a code-generation response.
func EditSetSchema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "File Edits",
  "description": "Complete contents of every file to create, overwrite, or delete",
  "type": "object",
  "required": ["edits"],
  "properties": {
    "edits": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path"],
        "properties": {
          "path": {
            "type": "string",
            "minLength": 1,
            "description": "Path relative to the project root"
          },
          "action": {
            "type": "string",
            "enum": ["write", "delete"]
          },
          "content": {
            "type": "string",
            "description": "Full file content for write actions"
          }
        },
        "additionalProperties": false
      }
    },
    "summary": {"type": "string"}
  },
  "additionalProperties": false
}`
}
