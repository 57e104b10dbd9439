package extractor

import (
	"context"
	"strings"
	"testing"
)

const benchJavaScript = `import { add, multiply } from './utils/math';
import * as dom from './dom';
import config from './config.json';

export class Helper {
  constructor(value) {
    this.value = value;
  }

  process(items) {
    return items.map((item) => multiply(item, this.value));
  }
}

export function helper() {
  return add(40, 2);
}

export const main = () => {
  const h = new Helper(config.factor);
  const result = h.process([1, 2, 3, 4, 5]);
  dom.render(result);
  import('./lazy').then((m) => m.run(result));
};

export * from './reexported';
export { add as plus };
`

const benchCSS = `@import "./reset.css";

.header {
  background: url("./images/header.png") no-repeat;
}

.logo {
  background-image: url(./images/logo.svg);
}
`

func benchmarkAnalyze(b *testing.B, lang Language, name, src string, analyze func(*File) *Analysis) {
	registry := NewLanguageRegistry()
	content := []byte(src)
	ctx := context.Background()

	b.Run("sample_file", func(b *testing.B) {
		b.ReportAllocs()
		b.SetBytes(int64(len(content)))
		for i := 0; i < b.N; i++ {
			f, err := registry.Parse(ctx, name, lang, content)
			if err != nil {
				b.Fatalf("Parse failed: %v", err)
			}
			analyze(f)
			f.Close()
		}
	})

	large := []byte(strings.Repeat(src, 50))
	b.Run("large_file", func(b *testing.B) {
		b.ReportAllocs()
		b.SetBytes(int64(len(large)))
		for i := 0; i < b.N; i++ {
			f, err := registry.Parse(ctx, name, lang, large)
			if err != nil {
				b.Fatalf("Parse failed: %v", err)
			}
			analyze(f)
			f.Close()
		}
	})
}

func BenchmarkAnalyzeJavaScript(b *testing.B) {
	benchmarkAnalyze(b, JavaScript, "main.js", benchJavaScript, AnalyzeJavaScript)
}

func BenchmarkAnalyzeCSS(b *testing.B) {
	benchmarkAnalyze(b, CSS, "main.css", benchCSS, AnalyzeCSS)
}
