package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantOK    bool
		wantLang  string
		wantCode  string
		wantProse string
	}{
		{
			name:      "python block with prose",
			reply:     "Here is a scatter plot.\n\n```python\nimport pandas as pd\nprint('ok')\n```\nDone.",
			wantOK:    true,
			wantLang:  "python",
			wantCode:  "import pandas as pd\nprint('ok')",
			wantProse: "Here is a scatter plot.\n\nDone.",
		},
		{
			name:     "untagged block",
			reply:    "```\nprint(1)\n```",
			wantOK:   true,
			wantCode: "print(1)",
		},
		{
			name:      "python preferred over earlier block",
			reply:     "```bash\npip install x\n```\n```py\nprint(2)\n```",
			wantOK:    true,
			wantLang:  "py",
			wantCode:  "print(2)",
			wantProse: "```bash\npip install x\n```",
		},
		{
			name:     "indented fences and CRLF",
			reply:    "  ```Python\r\n  x = 1\r\n  ```\r\n",
			wantOK:   true,
			wantLang: "python",
			wantCode: "x = 1",
		},
		{
			name:     "closing fence on the last code line",
			reply:    "```python\nx = 1\nprint(x)```",
			wantOK:   true,
			wantLang: "python",
			wantCode: "x = 1\nprint(x)",
		},
		{
			name:      "glued closing fence followed by prose",
			reply:     "Plot:\n```py\nprint(1)```\nThat is all.",
			wantOK:    true,
			wantLang:  "py",
			wantCode:  "print(1)",
			wantProse: "Plot:\nThat is all.",
		},
		{
			name:   "no fence",
			reply:  "I cannot help with that.",
			wantOK: false,
		},
		{
			name:   "unterminated fence",
			reply:  "```python\nprint('never closed')",
			wantOK: false,
		},
		{
			name:   "empty block",
			reply:  "```python\n\n```",
			wantOK: false,
		},
		{
			name:   "empty reply",
			reply:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, ok := Find(tt.reply)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, Block{}, block)
				return
			}
			assert.Equal(t, tt.wantLang, block.Lang)
			assert.Equal(t, tt.wantCode, block.Code)
			assert.Equal(t, tt.wantProse, block.Prose)
		})
	}
}

func TestFind_NeverPanics(t *testing.T) {
	inputs := []string{
		"```", "``````", "```\n```", "\n\n```\n", "`", "``` ```",
		strings.Repeat("```\n", 7), "```python", "text ``` inline ``` text",
		"\x00\xff```\n\xfe\n```",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Find(in) }, "%q", in)
	}
}

func TestPythonValidator(t *testing.T) {
	v := NewPythonValidator(nil)
	ctx := context.Background()

	ok := []string{
		"import pandas as pd\nimport matplotlib.pyplot as plt\ndf = pd.read_csv('data.csv')\nprint(df.head())",
		"from os import environ\nprint(environ.get('DATA_PATH'))",
		"import numpy as np, math",
	}
	for _, code := range ok {
		assert.NoError(t, v.Validate(ctx, code), code)
	}

	bad := map[string]int{
		"import subprocess":                        1,
		"import os\nimport socket as s":            2,
		"from urllib.request import urlopen":       1,
		"import numpy, shutil":                     1,
		"def f():\n    import http.client\n    f()": 2,
		"m = __import__('ctypes')":                 1,
	}
	for code, line := range bad {
		err := v.Validate(ctx, code)
		var rej *RejectedError
		require.True(t, errors.As(err, &rej), code)
		assert.Contains(t, rej.Reason, "blocked module", code)
		assert.Equal(t, line, rej.Line, code)
	}
}

func TestPythonValidator_SyntaxError(t *testing.T) {
	v := NewPythonValidator(nil)
	err := v.Validate(context.Background(), "print('ok')\ndef broken(:\n    pass\n")
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "syntax error", rej.Reason)
}

func TestPythonValidator_CustomList(t *testing.T) {
	v := NewPythonValidator([]string{"pandas"})
	assert.Error(t, v.Validate(context.Background(), "import pandas"))
	assert.NoError(t, v.Validate(context.Background(), "import subprocess"))
}
