package generate

import (
	"strings"
	"text/template"
)

const markdownInstructions = `あなたは学術論文をRAG用の構造化Markdownに変換する専門家です。
- 論文に書かれていない文章・数値・節を作らないこと。要約や言い換えをせず、読み取れた本文を転記すること。
- 論文タイトル(H1)は出力しない。最初の節見出しから "## " で始めること。
- 章は "##"、節は "###"、図・表・数式の見出しは "####" のみを使うこと。
- 画像は埋め込まず、"#### 図N：キャプション" の下に内容を文章で説明すること。
- 段落途中の不自然な改行は連結し、参考文献リストは削除すること。
出力はMarkdown本文のみとすること。`

var personaPrompt = template.Must(template.New("persona").Parse(`以下の条件に合う、臨床的にあり得る架空の患者プロフィールを創作してください。
新人セラピストがリハビリテーション実施計画書を書くための教材になります。

【条件】
- 基本属性: {{.AgeGroup}}, {{.Gender}}
- 主要疾患: {{.Theme}}

【関連論文の内容】
{{.Paper}}

【要件】
- 合併症は0から2つ程度。職業・家族構成・趣味は毎回変えること。
- 治療の妨げまたは促進となる心理社会的因子を1つ以上含めること。
- 次のキーを持つJSONオブジェクトだけを出力すること:
  age_group, gender, primary_disease, comorbidities (文字列の配列),
  background_history, subjective_complaints, psychosocial_factors
`))

var chainStepPrompt = template.Must(template.New("chain_step").Parse(`あなたはLoRAファインチューニング用の教師データを作る専門家です。
患者ペルソナと関連論文をもとに、リハビリテーション実施計画書の「{{.Step}}」を作成してください。

【指示】
{{.Instruction}}

【患者ペルソナ】
{{.Persona}}

【これまでに作成した項目】
{{.Previous}}

【関連論文】
{{.Paper}}

次のキーを持つJSONオブジェクトだけを出力すること: {{.Fields}}
`))

var parserPrompt = template.Must(template.New("parser").Parse(`あなたは経験豊富な指導者です。
以下の患者を担当する複数のセラピスト(PT、OT、ST)が書いたであろう、架空のリハビリ記録(日々のメモ、カルテ、経過記録)を創作してください。

【患者ペルソナ】
{{.Persona}}

【関連論文の抜粋】
{{.Paper}}

【要件】
1. 箇条書き、殴り書き、SOAP形式など、書き手ごとに文体を変えること。
2. ペルソナの情報を一箇所にまとめず、記録全体に分散させること。
3. ペルソナと直接関係のない経過記録も自然に含めること。
4. MMT、ROM、ADLなどの専門用語を適切に使うこと。
5. 記録全体を読めばペルソナの全項目が推測できること。
`))

const parserSystemMessage = "あなたは、非構造化テキスト(カルテやリハビリメモ)から患者のペルソナ情報を抽出し、指定されたJSONスキーマ(PatientPersona)で出力するエキスパートです。"

const loraInstruction = "患者ペルソナと関連論文に基づき、包括的なリハビリテーション実施計画書を生成せよ。"

func render(tmpl *template.Template, data any) (string, error) {
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}
