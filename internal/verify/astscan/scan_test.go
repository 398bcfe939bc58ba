package astscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pySample = `import os
from flask import Flask, request

app = Flask(__name__)

class TodoStore:
    def __init__(self):
        self.items = []

    def add(self, item):
        self.items.append(item)

def create_app(config=None):
    return app

async def fetch_data(url):
    pass
`

const jsSample = `import express from 'express';
import { Router, json } from 'express';
const lodash = require('lodash');

function createServer(port) {
  return express();
}

const handler = (req, res) => res.send('ok');

const legacy = function() {};

module.exports = {
  start: function() {},
};

class TodoController {
  list() {}
}
`

func TestAnalyzePython(t *testing.T) {
	analysis := AnalyzePython(pySample)

	var funcNames []string
	for _, f := range analysis.Functions {
		funcNames = append(funcNames, f.Name)
	}
	assert.ElementsMatch(t, []string{"__init__", "add", "create_app", "fetch_data"}, funcNames)

	require.Len(t, analysis.Classes, 1)
	assert.Equal(t, "TodoStore", analysis.Classes[0].Name)
	assert.ElementsMatch(t, []string{"__init__", "add"}, analysis.Classes[0].Methods)

	var modules []string
	for _, imp := range analysis.Imports {
		modules = append(modules, imp.Module)
	}
	assert.ElementsMatch(t, []string{"os", "flask"}, modules)

	assert.False(t, analysis.HasSyntaxErrors())
}

func TestAnalyzePythonParams(t *testing.T) {
	analysis := AnalyzePython("def greet(name, greeting='hi', *, loud: bool = False):\n    pass\n")
	require.Len(t, analysis.Functions, 1)
	assert.Equal(t, []string{"name", "greeting", "*", "loud"}, analysis.Functions[0].Params)
}

func TestAnalyzePythonUnbalancedBrackets(t *testing.T) {
	analysis := AnalyzePython("def broken(:\n    print((1)\n")
	assert.True(t, analysis.HasSyntaxErrors())
}

func TestAnalyzePythonCommentsDoNotConfuseBrackets(t *testing.T) {
	analysis := AnalyzePython("# don't touch this (\nx = (1 + 2)\n")
	assert.False(t, analysis.HasSyntaxErrors())
}

func TestAnalyzeJavaScript(t *testing.T) {
	analysis := AnalyzeJavaScript(jsSample)

	var funcNames []string
	for _, f := range analysis.Functions {
		funcNames = append(funcNames, f.Name)
	}
	assert.Contains(t, funcNames, "createServer")
	assert.Contains(t, funcNames, "handler")
	assert.Contains(t, funcNames, "start")

	require.Len(t, analysis.Classes, 1)
	assert.Equal(t, "TodoController", analysis.Classes[0].Name)

	var modules []string
	for _, imp := range analysis.Imports {
		modules = append(modules, imp.Module)
	}
	assert.ElementsMatch(t, []string{"express", "express", "lodash"}, modules)
}

func TestAnalyzeFileDispatch(t *testing.T) {
	assert.NotNil(t, AnalyzeFile("app.py", "def main():\n    pass\n"))
	assert.NotNil(t, AnalyzeFile("index.ts", "function main() {}"))
	assert.Nil(t, AnalyzeFile("README.md", "# hi"))
}

func TestExistenceChecks(t *testing.T) {
	assert.True(t, FunctionExists(pySample, "create_app", "python"))
	assert.False(t, FunctionExists(pySample, "delete_app", "python"))
	assert.True(t, ClassExists(pySample, "TodoStore", "python"))
	assert.True(t, ImportExists(pySample, "flask", "python"))

	assert.True(t, FunctionExists(jsSample, "createServer", "javascript"))
	assert.True(t, ClassExists(jsSample, "TodoController", "javascript"))
	assert.True(t, ImportExists(jsSample, "express", "javascript"))
	assert.True(t, ImportExists(jsSample, "lodash", "javascript"))
}

func TestMatchAllRequired(t *testing.T) {
	patterns := &Patterns{
		RequiredFunctions: []NamedPattern{{Name: "create_app"}},
		RequiredClasses:   []NamedPattern{{Name: "TodoStore"}},
		RequiredImports:   []string{"flask"},
		CodePatterns:      []CodePattern{{Type: "append_usage", Description: "self.items.append"}},
	}

	result := Match(pySample, patterns, "python")
	assert.True(t, result.AllRequiredMatched)
	assert.True(t, result.RequiredFunctions["create_app"].Matched)
	assert.True(t, result.CodePatterns["append_usage"].Matched)
}

func TestMatchReportsMissing(t *testing.T) {
	patterns := &Patterns{
		RequiredFunctions: []NamedPattern{{Name: "create_app"}, {Name: "destroy_app"}},
	}

	result := Match(pySample, patterns, "python")
	assert.False(t, result.AllRequiredMatched)
	assert.True(t, result.RequiredFunctions["create_app"].Matched)
	assert.False(t, result.RequiredFunctions["destroy_app"].Matched)

	summary := result.Summary()
	assert.Contains(t, summary, "destroy_app=missing")
	assert.Contains(t, summary, "create_app=ok")
}

func TestMatchEmptyPatterns(t *testing.T) {
	result := Match(pySample, &Patterns{}, "python")
	assert.True(t, result.AllRequiredMatched)

	var nilPatterns *Patterns
	assert.True(t, nilPatterns.Empty())
}
