package knowledge

// builtinCorpus is a small heart-health reference set used when no
// external corpus is configured. Content mirrors the educational snippets
// the assistant is allowed to cite without a clinician in the loop.
var builtinCorpus = []Document{
	{
		Source: "aha-blood-pressure-basics",
		Text: "Blood pressure is recorded as two numbers: systolic pressure over diastolic pressure, " +
			"measured in mmHg. A reading below 120/80 is considered normal for most adults. " +
			"Regular home monitoring at the same time each day gives the most reliable trend.",
	},
	{
		Source: "aha-physical-activity",
		Text: "Regular physical activity such as brisk walking helps lower blood pressure and resting " +
			"heart rate over time. Adults benefit from at least 150 minutes of moderate exercise per week, " +
			"and even short walks after meals can improve circulation.",
	},
	{
		Source: "sleep-foundation-heart",
		Text: "Sleep quality affects heart health. Adults who consistently sleep seven to eight hours " +
			"per night tend to have lower blood pressure. A consistent bedtime routine and limiting " +
			"screens before bed can improve sleep quality scores.",
	},
	{
		Source: "cdc-sodium-diet",
		Text: "Reducing sodium intake can lower blood pressure within weeks. Most dietary sodium comes " +
			"from processed foods rather than the salt shaker. Reading labels and cooking at home help " +
			"keep daily sodium under the recommended limit.",
	},
	{
		Source: "aha-heart-rate-variability",
		Text: "Heart rate variability reflects how well the body adapts to stress and recovery. Higher " +
			"variability generally indicates better cardiovascular fitness. Stress management, hydration, " +
			"and consistent sleep improve heart rate variability.",
	},
	{
		Source: "aha-stress-management",
		Text: "Chronic stress contributes to elevated blood pressure. Breathing exercises, short walks, " +
			"and regular relaxation practice measurably reduce stress and support healthy blood pressure.",
	},
}
